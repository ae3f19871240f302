package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func req(service string, command Command, keys, fields string) Request {
	return Request{
		Service: service,
		Command: command,
		Parameters: map[string]string{
			"keys":   keys,
			"fields": fields,
		},
	}
}

func TestLedger(t *testing.T) {
	t.Run("add unions fields per key", func(t *testing.T) {
		require := require.New(t)
		l := NewLedger()

		l.Record(req("LEVELONE_EQUITIES", Add, "AAPL", "0,1"))
		l.Record(req("LEVELONE_EQUITIES", Add, "AAPL,GOOG", "2"))

		subs := l.Subscriptions()
		require.Equal([]string{"0", "1", "2"}, subs["LEVELONE_EQUITIES"]["AAPL"])
		require.Equal([]string{"2"}, subs["LEVELONE_EQUITIES"]["GOOG"])
	})

	t.Run("subs replaces the service", func(t *testing.T) {
		require := require.New(t)
		l := NewLedger()

		l.Record(req("LEVELONE_EQUITIES", Add, "AAPL", "0,1"))
		l.Record(req("LEVELONE_EQUITIES", Subs, "MSFT", "3"))

		subs := l.Subscriptions()
		require.NotContains(subs["LEVELONE_EQUITIES"], "AAPL")
		require.Equal([]string{"3"}, subs["LEVELONE_EQUITIES"]["MSFT"])
	})

	t.Run("unsubs removes keys", func(t *testing.T) {
		require := require.New(t)
		l := NewLedger()

		l.Record(req("LEVELONE_EQUITIES", Add, "AAPL,GOOG", "0,1"))
		l.Record(req("LEVELONE_EQUITIES", Unsubs, "AAPL", ""))

		subs := l.Subscriptions()
		require.NotContains(subs["LEVELONE_EQUITIES"], "AAPL")
		require.Contains(subs["LEVELONE_EQUITIES"], "GOOG")

		l.Record(req("LEVELONE_EQUITIES", Unsubs, "GOOG", ""))
		require.True(l.Empty())
	})

	t.Run("view overwrites existing keys only", func(t *testing.T) {
		require := require.New(t)
		l := NewLedger()

		l.Record(req("LEVELONE_EQUITIES", Add, "AAPL,GOOG", "0,1"))
		l.Record(req("LEVELONE_EQUITIES", View, "", "4,5"))

		subs := l.Subscriptions()
		require.Equal([]string{"4", "5"}, subs["LEVELONE_EQUITIES"]["AAPL"])
		require.Equal([]string{"4", "5"}, subs["LEVELONE_EQUITIES"]["GOOG"])
		require.Len(subs["LEVELONE_EQUITIES"], 2)
	})

	t.Run("admin traffic is ignored", func(t *testing.T) {
		require := require.New(t)
		l := NewLedger()

		l.Record(Request{Service: "ADMIN", Command: Login})
		l.Record(Request{Command: Add, Parameters: map[string]string{"keys": "AAPL"}})
		require.True(l.Empty())
	})

	t.Run("clear drops everything", func(t *testing.T) {
		require := require.New(t)
		l := NewLedger()

		l.Record(req("LEVELONE_EQUITIES", Add, "AAPL", "0"))
		require.False(l.Empty())
		l.Clear()
		require.True(l.Empty())
	})
}

func TestLedgerReplayGroupsByFieldSet(t *testing.T) {
	require := require.New(t)
	l := NewLedger()

	// AAPL and GOOG share a field set, MSFT differs, futures are a second
	// service.
	l.Record(req("LEVELONE_EQUITIES", Add, "GOOG,AAPL", "0,1"))
	l.Record(req("LEVELONE_EQUITIES", Add, "MSFT", "0,1,2"))
	l.Record(req("LEVELONE_FUTURES", Add, "/ESF24", "0"))

	got := l.replay()
	require.Len(got, 2)

	require.Equal("LEVELONE_EQUITIES", got[0].service)
	require.Len(got[0].groups, 2)
	require.Equal([]string{"AAPL", "GOOG"}, got[0].groups[0].keys)
	require.Equal([]string{"0", "1"}, got[0].groups[0].fields)
	require.Equal([]string{"MSFT"}, got[0].groups[1].keys)
	require.Equal([]string{"0", "1", "2"}, got[0].groups[1].fields)

	require.Equal("LEVELONE_FUTURES", got[1].service)
	require.Len(got[1].groups, 1)
	require.Equal([]string{"/ESF24"}, got[1].groups[0].keys)
}
