// Package timebucket maps receive timestamps onto fixed-width time
// windows and the Hive-style partition paths derived from them.
package timebucket

import (
	"fmt"
	"path/filepath"
	"time"
)

// Bucket is one fixed-width window of a UTC day. Buckets are
// comparable with ==; two timestamps in the same window produce equal
// buckets and therefore equal partition paths.
type Bucket struct {
	year    int
	month   int
	day     int
	hour    int
	minute  int // floored to a multiple of Minutes
	Minutes int
}

// FromMillis buckets an epoch-ms timestamp. bucketMinutes must be in
// [1, 60]; values outside that range are clamped.
func FromMillis(tsMS int64, bucketMinutes int) Bucket {
	if bucketMinutes < 1 {
		bucketMinutes = 1
	}
	if bucketMinutes > 60 {
		bucketMinutes = 60
	}
	t := time.UnixMilli(tsMS).UTC()
	return Bucket{
		year:    t.Year(),
		month:   int(t.Month()),
		day:     t.Day(),
		hour:    t.Hour(),
		minute:  (t.Minute() / bucketMinutes) * bucketMinutes,
		Minutes: bucketMinutes,
	}
}

// FromTime buckets a wall-clock time.
func FromTime(t time.Time, bucketMinutes int) Bucket {
	return FromMillis(t.UnixMilli(), bucketMinutes)
}

// Date returns the YYYY-MM-DD partition value.
func (b Bucket) Date() string {
	return fmt.Sprintf("%04d-%02d-%02d", b.year, b.month, b.day)
}

// Hour returns the zero-padded HH partition value.
func (b Bucket) Hour() string {
	return fmt.Sprintf("%02d", b.hour)
}

// Label returns the YYYY-MM-DDTHH-mm file label for this bucket.
func (b Bucket) Label() string {
	return fmt.Sprintf("%sT%s-%02d", b.Date(), b.Hour(), b.minute)
}

// Dir returns the partition directory {root}/{table}/venue={V}/date={D}/hour={H}.
func (b Bucket) Dir(root, table, venue string) string {
	return filepath.Join(
		root,
		table,
		"venue="+venue,
		"date="+b.Date(),
		"hour="+b.Hour(),
	)
}

// Start returns the instant the bucket opens.
func (b Bucket) Start() time.Time {
	return time.Date(b.year, time.Month(b.month), b.day, b.hour, b.minute, 0, 0, time.UTC)
}

// Next returns the bucket immediately following this one, rolling
// over hour and date boundaries.
func (b Bucket) Next() Bucket {
	return FromTime(b.Start().Add(time.Duration(b.Minutes)*time.Minute), b.Minutes)
}

// Before reports whether b opens earlier than o.
func (b Bucket) Before(o Bucket) bool {
	return b.Start().Before(o.Start())
}

func (b Bucket) String() string {
	return "date=" + b.Date() + "/hour=" + b.Hour() + "/" + b.Label()
}
