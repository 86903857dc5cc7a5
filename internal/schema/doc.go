// Package schema defines the canonical snapshot row written to the
// columnar store: its construction from raw depth, depth truncation,
// status tagging, and the parquet-tagged record form.
//
// List columns (bid_px, bid_sz, ask_px, ask_sz) are persisted as
// JSON-encoded strings; files advertise this in their footer metadata
// under the key "clobwatch.list_encoding".
package schema
