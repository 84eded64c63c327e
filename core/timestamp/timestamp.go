// Package timestamp guesses whether a number stored in a column is a point
// in time, and in which of the common epochs.
package timestamp

import (
	"math"
	"time"
)

// Seconds between the epochs used below and the Unix epoch.
const (
	macEpochOffset     = 978307200   // 2001-01-01
	windowsEpochOffset = 11644473600 // 1601-01-01
)

// Interpretation is one plausible reading of a number.
type Interpretation struct {
	Format string    `json:"format"`
	Time   time.Time `json:"time"`
	Text   string    `json:"text"`
}

type rule struct {
	format string
	lo, hi float64
	// toUnix converts the value to Unix seconds.
	toUnix  func(v float64) float64
	minYear int
	layout  string
}

const (
	layoutSeconds = "2006-01-02 15:04:05 UTC"
	layoutMillis  = "2006-01-02 15:04:05.000 UTC"
	layoutMicros  = "2006-01-02 15:04:05.000000 UTC"
)

var rules = []rule{
	{"Unix seconds", 946684800, 4102444800, func(v float64) float64 { return v }, 2000, layoutSeconds},
	{"Unix ms", 9.46e11, 4.1e15, func(v float64) float64 { return v / 1e3 }, 2000, layoutMillis},
	{"Unix µs", 9.46e14, 4.1e18, func(v float64) float64 { return v / 1e6 }, 2000, layoutMicros},
	{"Mac Absolute", 31536000, 1e10, func(v float64) float64 { return v + macEpochOffset }, 2002, layoutSeconds},
	{"Chrome/WebKit", 1e16, 1.5e17, func(v float64) float64 { return v/1e6 - windowsEpochOffset }, 1970, layoutSeconds},
	{"Windows FILETIME", 1e17, 3e18, func(v float64) float64 { return v/1e7 - windowsEpochOffset }, 1970, layoutSeconds},
}

// Decode returns every epoch under which v falls in a plausible date range
// (roughly 1970 or 2000 up to 2099 depending on the epoch). Values between
// -100000 and 946684800 are treated as plain numbers and yield nothing.
func Decode(v float64) []Interpretation {
	if math.IsNaN(v) || math.IsInf(v, 0) || (v > -100000 && v < 946684800) {
		return nil
	}
	var out []Interpretation
	for _, r := range rules {
		if v < r.lo || v >= r.hi {
			continue
		}
		t := fromUnix(r.toUnix(v))
		if t.Year() < r.minYear || t.Year() > 2099 {
			continue
		}
		out = append(out, Interpretation{Format: r.format, Time: t, Text: t.Format(r.layout)})
	}
	return out
}

func fromUnix(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
