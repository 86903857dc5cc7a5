// Package model defines the shared domain types for the surveillance
// collector: market/outcome keys, price levels, book events emitted by
// venue adapters, trade events, and universe entries.
package model
