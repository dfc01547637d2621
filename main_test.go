package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cryptocompare_scraper/config"
	"cryptocompare_scraper/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Scrape.BaseURL = baseURL
	cfg.Scrape.Exchanges = []string{"COINBASE", "KRAKEN"}
	cfg.Scrape.Pairs = []models.SymbolPair{{From: "BTC", To: "USD"}}
	cfg.Scrape.Aggregate = "1"
	cfg.Scrape.Limit = "2"
	cfg.Scrape.Concurrency = 2
	cfg.Scrape.Policy = config.PolicyFailFast
	cfg.Aggregate.ZeroAsMissing = true
	return cfg
}

func TestRunAllEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		closePrice := "95"
		if r.URL.Query().Get("e") == "KRAKEN" {
			closePrice = "105"
		}
		w.Write([]byte(`{"Response":"Success","TimeFrom":1514764800,"TimeTo":1514764800,"Data":[
			{"time":1514764800,"high":110,"low":90,"open":100,"volumefrom":1,"volumeto":11,"close":` + closePrice + `}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	raw := filepath.Join(dir, "raw.csv")
	out := filepath.Join(dir, "clean.csv")

	require.NoError(t, run(context.Background(), testConfig(srv.URL), modeAll, raw, out))

	b, err := os.ReadFile(raw)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1514764800,100,110,90,95,1,11,BTC_USD,COINBASE", lines[1])
	assert.Equal(t, "1514764800,100,110,90,105,1,11,BTC_USD,KRAKEN", lines[2])

	b, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t,
		"time,close_BTC_USD,volume_BTC_USD,fluctuation_BTC_USD,relative_hl_close_BTC_USD\n"+
			"1514764800,100,10,0.2,0.5\n",
		string(b))
}

func TestRunFetchServerErrorLeavesNoFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	raw := filepath.Join(dir, "raw.csv")
	out := filepath.Join(dir, "clean.csv")

	require.Error(t, run(context.Background(), testConfig(srv.URL), modeAll, raw, out))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunUnknownMode(t *testing.T) {
	err := run(context.Background(), testConfig("http://unused"), "sideways", "a", "b")
	assert.ErrorContains(t, err, "unknown mode")
}
