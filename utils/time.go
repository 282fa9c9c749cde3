// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// TimeToUTCPtr converts a time pointer to UTC, keeping nil as nil
func TimeToUTCPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// JakartaLocation returns the Asia/Jakarta zone used for tenant-facing timestamps,
// falling back to a fixed +07:00 zone when tzdata is unavailable
func JakartaLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		return time.FixedZone("WIB", 7*60*60)
	}
	return loc
}
