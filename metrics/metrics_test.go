package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFetchUpdatesStats(t *testing.T) {
	req0, fail0, rows0, _ := GetStats()

	RecordFetch("KRAKEN", "BTC_USD", 20*time.Millisecond, 5, nil)
	RecordFetch("KRAKEN", "BTC_USD", 10*time.Millisecond, 0, errors.New("boom"))

	req1, fail1, rows1, uptime := GetStats()
	assert.Equal(t, req0+2, req1)
	assert.Equal(t, fail0+1, fail1)
	assert.Equal(t, rows0+5, rows1)
	assert.Positive(t, uptime)
}

func TestHandlerExposesCounters(t *testing.T) {
	RecordFetch("BITSTAMP", "ETH_USD", time.Millisecond, 3, nil)
	RecordRun(time.Second, 0)
	RecordAggregate(10)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `histohour_rows_total{exchange="BITSTAMP",pair="ETH_USD"}`)
	assert.Contains(t, string(body), "scrape_run_duration_seconds 1")
	assert.Contains(t, string(body), "aggregate_rows 10")
}
