// Package storage persists snapshot and trade rows as parquet files
// under Hive-style partition paths. Buffers accumulate per time
// bucket and flush on row count, elapsed time, or bucket rollover;
// every file lands via write-to-.tmp, fsync, atomic rename, so a
// reader never observes a partial file.
package storage
