package core

import "time"

// StalenessGuard decides whether an engine message is newer than the state
// it would overwrite. Engine timestamps are millisecond epochs; stored
// updated_at values are time.Time, and this is the only place the two are
// compared.
type StalenessGuard struct{}

// Accept reports whether a message stamped messageMillis may be applied to a
// record last updated at current. Equal timestamps are stale, and a missing
// (zero or negative) timestamp is never accepted.
func (StalenessGuard) Accept(current time.Time, messageMillis int64) bool {
	if messageMillis <= 0 {
		return false
	}
	return MessageTime(messageMillis).After(current)
}

// MessageTime converts an engine millisecond epoch to UTC time.
func MessageTime(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}
