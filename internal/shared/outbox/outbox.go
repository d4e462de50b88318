// Package outbox holds the per-session message buffer. Entries queued
// during a transaction are published only after that transaction
// commits; rolling back discards them.
package outbox

// Entry is one queued message: a destination channel and an opaque
// payload.
type Entry struct {
	Channel string
	Payload []byte
}

// Buffer accumulates entries for a single transaction, in insertion
// order. The zero value is ready to use. A buffer belongs to exactly
// one session and is not safe for concurrent use.
type Buffer struct {
	entries []Entry
}

// Queue appends an entry. The payload is copied so later mutations by
// the caller cannot change what gets published.
func (b *Buffer) Queue(channel string, payload []byte) {
	b.entries = append(b.entries, Entry{
		Channel: channel,
		Payload: append([]byte(nil), payload...),
	})
}

// Reset discards all queued entries.
func (b *Buffer) Reset() {
	b.entries = nil
}

// Drain returns the queued entries in insertion order and empties the
// buffer.
func (b *Buffer) Drain() []Entry {
	entries := b.entries
	b.entries = nil
	return entries
}

// Len reports how many entries are queued.
func (b *Buffer) Len() int {
	return len(b.entries)
}
