// Package journal is the durable, replayable log behind every store of the
// alarm processor.
//
// A Journal holds named topics in one goleveldb database. Each append writes
// the log record, the compacted latest-value table entry and the topic offset
// in a single batch, so a record is either fully applied or not at all.
// A nil value is a tombstone: it is logged and removes the table entry.
package journal
