package table

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cryptocompare_scraper/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *RawTable {
	t0 := time.Unix(1514764800, 0).UTC()
	tbl := New()
	tbl.Append([]models.Candle{
		{Time: t0, Open: 100, High: 110, Low: 90, Close: 105.5, VolumeFrom: 2, VolumeTo: 202,
			Extra: map[string]string{"conversionType": "direct", "conversionSymbol": ""}, Pair: "BTC_USD", Exchange: "COINBASE"},
		{Time: t0.Add(time.Hour), Open: 0, High: 0, Low: 0, Close: 0, VolumeFrom: 0, VolumeTo: 0,
			Extra: map[string]string{"conversionType": "direct", "conversionSymbol": ""}, Pair: "BTC_USD", Exchange: "COINBASE"},
	}, "conversionType", "conversionSymbol")
	tbl.Append([]models.Candle{
		{Time: t0, Open: 101, High: 111, Low: 91, Close: 106, VolumeFrom: 1, VolumeTo: 101,
			Extra: map[string]string{"conversionType": "multiply", "conversionSymbol": "BTC"}, Pair: "BTC_USD", Exchange: "KRAKEN"},
	}, "conversionType", "conversionSymbol")
	return tbl
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleTable().WriteCSV(&buf))

	want := strings.Join([]string{
		"time,open,high,low,close,volumefrom,volumeto,conversionType,conversionSymbol,fsym_tsym,exchange",
		"1514764800,100,110,90,105.5,2,202,direct,,BTC_USD,COINBASE",
		"1514768400,0,0,0,0,0,0,direct,,BTC_USD,COINBASE",
		"1514764800,101,111,91,106,1,101,multiply,BTC,BTC_USD,KRAKEN",
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
}

func TestAppendAddsUnknownExtrasSorted(t *testing.T) {
	tbl := New()
	tbl.Append([]models.Candle{{Extra: map[string]string{"zeta": "1", "alpha": "2"}}})
	tbl.Append([]models.Candle{{Extra: map[string]string{"alpha": "3", "mid": "4"}}}, "beta")
	assert.Equal(t, []string{"alpha", "zeta", "beta", "mid"}, tbl.Extra)
}

func TestReadCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	src := sampleTable()
	require.NoError(t, src.WriteCSV(&buf))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)

	assert.Equal(t, src.Extra, got.Extra)
	require.Len(t, got.Candles, src.Len())
	for i := range src.Candles {
		assert.Equal(t, src.Candles[i], got.Candles[i], "row %d", i)
	}
}

func TestReadCSVEmptyCellIsNaN(t *testing.T) {
	in := "time,open,high,low,close,volumefrom,volumeto,fsym_tsym,exchange\n" +
		"1514764800,,2,1,1.5,,3,ETH_USD,KRAKEN\n"
	got, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got.Candles, 1)
	assert.True(t, math.IsNaN(got.Candles[0].Open))
	assert.True(t, math.IsNaN(got.Candles[0].VolumeFrom))
	assert.Equal(t, 1.5, got.Candles[0].Close)
	assert.Nil(t, got.Candles[0].Extra)
}

func TestReadCSVMissingColumn(t *testing.T) {
	in := "time,open,high,low,close,volumefrom,volumeto,exchange\n"
	_, err := ReadCSV(strings.NewReader(in))
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "fsym_tsym")
}

func TestReadCSVBadNumber(t *testing.T) {
	in := "time,open,high,low,close,volumefrom,volumeto,fsym_tsym,exchange\n" +
		"1514764800,abc,2,1,1.5,1,3,ETH_USD,KRAKEN\n"
	_, err := ReadCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestWriteFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crypto_data_all.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0o644))

	err := WriteFileAtomic(path, func(w io.Writer) error {
		w.Write([]byte("partial"))
		return errors.New("disk on fire")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous run\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")

	require.NoError(t, sampleTable().WriteFile(path))
	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
}
