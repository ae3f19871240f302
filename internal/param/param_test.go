package param

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListSplit(t *testing.T) {
	require := require.New(t)

	require.Equal("AAPL,GOOG", List([]string{"AAPL", "GOOG"}))
	require.Equal([]string{"AAPL", "GOOG"}, Split("AAPL,GOOG"))
	require.Nil(Split(""))
}

func TestValuesOmitsUnset(t *testing.T) {
	require := require.New(t)

	v := New().
		String("fields", "positions").
		String("status", "").
		Int("maxResults", 0).
		Bool("indicative", false).
		Time("date", time.Time{}, Date)

	require.Equal("positions", v.Get("fields"))
	require.False(v.Has("status"))
	require.False(v.Has("maxResults"))
	require.False(v.Has("indicative"))
	require.False(v.Has("date"))
}

func TestValuesFormats(t *testing.T) {
	require := require.New(t)

	at := time.Date(2026, 8, 31, 16, 0, 0, 0, time.UTC)
	v := New().
		Int("maxResults", 50).
		Bool("indicative", true).
		Time("fromEnteredTime", at, ISO8601).
		Time("date", at, Date).
		EpochMilli("startDate", at)

	require.Equal("50", v.Get("maxResults"))
	require.Equal("true", v.Get("indicative"))
	require.Equal("2026-08-31T16:00:00.000Z", v.Get("fromEnteredTime"))
	require.Equal("2026-08-31", v.Get("date"))
	require.Equal("1788192000000", v.Get("startDate"))
}
