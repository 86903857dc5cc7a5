// Package scheduler decides which (market, outcome) keys the
// collector should be subscribed to: a stable HOT set of the
// top-ranked keys plus a WARM set that rotates through the rest of
// the eligible universe on a cursor.
package scheduler
