// Package canon normalizes timestamps to a single canonical UTC form so that
// durations and orderings computed on different devices agree exactly.
package canon

import "time"

// Layout is the canonical text encoding: UTC ISO-8601 with fixed
// millisecond precision. Two instants are considered the same logical
// moment if and only if they encode to the same string.
const Layout = "2006-01-02T15:04:05.000Z07:00"

// Encode renders the instant in the canonical text form.
func Encode(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Normalize canonicalizes an instant by round-tripping it through the
// canonical encoding. The round trip, rather than a direct projection,
// guarantees bit-for-bit identical values for any two instants that encode
// identically.
//
// Normalize never fails: if decoding the just-produced encoding fails, the
// original instant is returned unchanged. Callers rely on this.
func Normalize(t time.Time) time.Time {
	parsed, err := time.Parse(Layout, Encode(t))
	if err != nil {
		return t
	}
	return parsed
}

// NormalizePtr canonicalizes an optional instant, preserving nil.
func NormalizePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	normalized := Normalize(*t)
	return &normalized
}
