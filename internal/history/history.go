// Package history keeps the bounded, time-expiring per-room message buffers
// used to replay recent context to clients joining a room.
package history

import (
	"strings"
	"sync"
	"time"
)

// Message is an immutable chat history entry. The text is stored fully
// rendered, including the sender annotation.
type Message struct {
	Text    string
	Created time.Time
	TTL     time.Duration
}

// Expired reports whether the message has outlived its TTL at the given time.
func (m Message) Expired(now time.Time) bool {
	return now.Sub(m.Created) > m.TTL
}

// Buffer holds the most recent messages of a single room in arrival order.
// When full, the oldest entry is dropped regardless of expiry.
type Buffer struct {
	messages []Message
	capacity int
}

// NewBuffer creates a buffer that retains at most capacity messages.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{capacity: capacity}
}

// Append adds a message, evicting the oldest entry when the buffer is full.
func (b *Buffer) Append(m Message) {
	if len(b.messages) == b.capacity {
		copy(b.messages, b.messages[1:])
		b.messages = b.messages[:len(b.messages)-1]
	}
	b.messages = append(b.messages, m)
}

// Len returns the number of retained messages, expired ones included.
func (b *Buffer) Len() int {
	return len(b.messages)
}

// Store owns one Buffer per room name, created on first access. Capacity and
// TTL are fixed for the lifetime of the store and shared by all rooms.
type Store struct {
	mu       sync.Mutex
	rooms    map[string]*Buffer
	capacity int
	ttl      time.Duration
}

// DefaultCapacity and DefaultTTL match the buffer bound and message lifetime
// the protocol has always used.
const (
	DefaultCapacity = 20
	DefaultTTL      = time.Hour
)

// NewStore creates a Store whose rooms retain capacity messages for ttl each.
func NewStore(capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		rooms:    make(map[string]*Buffer),
		capacity: capacity,
		ttl:      ttl,
	}
}

func (s *Store) room(name string) *Buffer {
	buf, ok := s.rooms[name]
	if !ok {
		buf = NewBuffer(s.capacity)
		s.rooms[name] = buf
	}
	return buf
}

// Append records text in the room's buffer with the store's TTL.
func (s *Store) Append(room, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.room(room).Append(Message{
		Text:    text,
		Created: time.Now(),
		TTL:     s.ttl,
	})
}

// Read returns the newline-joined, non-expired messages of the room in
// arrival order. Expiry is checked lazily here; expired entries stay in the
// buffer and keep occupying capacity until FIFO eviction removes them.
func (s *Store) Read(room string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	buf := s.room(room)

	lines := make([]string, 0, len(buf.messages))
	for _, m := range buf.messages {
		if m.Expired(now) {
			continue
		}
		lines = append(lines, m.Text)
	}
	return strings.Join(lines, "\n")
}
