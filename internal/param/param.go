// Package param builds query parameters in the shapes the Schwab API expects.
package param

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Timestamp layouts accepted by the API.
const (
	ISO8601 = "2006-01-02T15:04:05.000Z"
	Date    = "2006-01-02"
)

// List joins keys or fields into the comma separated form used by both the
// REST query string and the streaming request parameters.
func List(vals []string) string {
	return strings.Join(vals, ",")
}

// Split is the inverse of List. An empty string yields nil.
func Split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Values collects query parameters, omitting optional parameters that were
// left unset so they never reach the wire.
type Values struct {
	url.Values
}

func New() Values {
	return Values{url.Values{}}
}

func (v Values) String(key, value string) Values {
	if value != "" {
		v.Set(key, value)
	}
	return v
}

func (v Values) Int(key string, value int) Values {
	if value != 0 {
		v.Set(key, strconv.Itoa(value))
	}
	return v
}

func (v Values) Bool(key string, value bool) Values {
	if value {
		v.Set(key, "true")
	}
	return v
}

func (v Values) Time(key string, t time.Time, layout string) Values {
	if !t.IsZero() {
		v.Set(key, t.UTC().Format(layout))
	}
	return v
}

// EpochMilli formats t as milliseconds since the Unix epoch, the form the
// price history endpoint wants for start and end dates.
func (v Values) EpochMilli(key string, t time.Time) Values {
	if !t.IsZero() {
		v.Set(key, strconv.FormatInt(t.UnixMilli(), 10))
	}
	return v
}
