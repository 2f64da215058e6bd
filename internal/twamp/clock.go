// Package twamp implements the RFC 5357 TWAMP-Light measurement engine:
// the NTP timestamp type and wire codec (this file and wire.go), the
// sender and reflector session tasks (sender.go and session.go), and the
// session registry (registry.go).
package twamp

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// Timestamp is an NTP 64-bit timestamp: seconds since 1900 plus a
// fractional part scaled to 2^32.
type Timestamp struct {
	Seconds    uint32
	Fractional uint32
}

// Now returns the current time as an NTP Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to an NTP Timestamp.
func FromTime(t time.Time) Timestamp {
	unixSeconds := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return FromUnixSeconds(unixSeconds)
}

// FromUnixSeconds converts a floating-point seconds-since-Unix-epoch
// value to an NTP Timestamp.
func FromUnixSeconds(t float64) Timestamp {
	ntpSeconds := t + ntpEpochOffset
	whole := uint32(ntpSeconds)
	frac := ntpSeconds - float64(whole)
	return Timestamp{
		Seconds:    whole,
		Fractional: uint32(frac * 4294967296.0), // 2^32
	}
}

// UnixSeconds converts ts back to floating-point seconds-since-Unix-epoch.
func (ts Timestamp) UnixSeconds() float64 {
	return float64(ts.Seconds) - ntpEpochOffset + float64(ts.Fractional)/4294967296.0
}

// Sub returns the duration ts-other in seconds, positive if ts is later.
func (ts Timestamp) Sub(other Timestamp) float64 {
	return ts.UnixSeconds() - other.UnixSeconds()
}
