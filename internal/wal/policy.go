package wal

import "fmt"

// Policy is the durability policy a Writer enforces on every Append (§4.5
// "Durability policies"). InMemory has no Writer at all — the engine simply
// does not wire a Durability into the validator when configured for it — so
// Policy here only ever takes the Buffered or Strict value.
type Policy byte

const (
	// Buffered writes the record to the OS and defers fsync: a background
	// flush thread fsyncs on an elapsed interval, and the Append whose record
	// pushes the unsynced bytes past BufferedFsyncBytes fsyncs inline before
	// it returns.
	Buffered Policy = iota
	// Strict fsyncs the record before Append returns.
	Strict
)

func (p Policy) String() string {
	switch p {
	case Buffered:
		return "buffered"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("unknown(%d)", byte(p))
	}
}
