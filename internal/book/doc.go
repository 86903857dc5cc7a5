// Package book holds the live order-book state for every
// (market, outcome) key: snapshot replacement, delta application, and
// consistent depth reads for the snapshotter.
//
// The store is sharded by key hash; all operations on one key run
// under that key's shard lock, so readers always observe both sides
// of a book from the same update.
package book
