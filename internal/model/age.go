package model

import "time"

// NowMillis returns the current time in Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// AgeOf converts an absolute timestamp into the wire "age" convention:
// milliseconds elapsed between t and now. Both values are Unix milliseconds.
func AgeOf(t, now int64) int64 {
	return now - t
}

// TimeFromAge converts a wire age back into an absolute timestamp relative
// to the local clock.
func TimeFromAge(age, now int64) int64 {
	return now - age
}
