package cryptocompare

import (
	"net/url"
	"strings"

	"cryptocompare_scraper/models"
)

// Builder renders histohour request URLs against a base endpoint.
type Builder struct {
	BaseURL string
}

var defaultBuilder = Builder{BaseURL: models.DefaultBaseURL}

// BuildURL returns the request URL, the pair label and the exchange label
// for p against the public endpoint.
func BuildURL(p models.FetchParams) (string, string, string) {
	return defaultBuilder.BuildURL(p)
}

// BuildURL keeps the query order fsym, tsym, limit, aggregate, e. Values are
// not validated; the API reports unknown symbols or exchanges itself.
func (b Builder) BuildURL(p models.FetchParams) (string, string, string) {
	var sb strings.Builder
	sb.WriteString(b.BaseURL)
	sb.WriteString("?fsym=")
	sb.WriteString(url.QueryEscape(p.Pair.From))
	sb.WriteString("&tsym=")
	sb.WriteString(url.QueryEscape(p.Pair.To))
	sb.WriteString("&limit=")
	sb.WriteString(url.QueryEscape(p.Limit))
	sb.WriteString("&aggregate=")
	sb.WriteString(url.QueryEscape(p.Aggregate))
	sb.WriteString("&e=")
	sb.WriteString(url.QueryEscape(p.Exchange))

	return sb.String(), p.Pair.Label(), p.Exchange
}
