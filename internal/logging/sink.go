package logging

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxEntries is the default capacity of the sink.
const DefaultMaxEntries = 5000

// SourceField marks logrus entries that were already written to a sink by the
// component emitting them. The hook skips those so they are not stored twice.
const (
	SourceField      = "source"
	SourceSupervisor = "supervisor"
)

// Level is the severity attached to a captured line.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is one captured line of server output.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Record is an unstamped line queued for the sink by a stream reader.
type Record struct {
	Level   Level
	Message string
}

// Sink is a capped, append-only ring of log entries. When full, the oldest
// entry is overwritten. New entries are pushed to subscribers as they arrive.
// It implements logrus.Hook so shell logs can be mirrored into it.
type Sink struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int // index where the next entry will be written
	count    int

	// pubMu is taken before mu is released so subscribers see entries in ring order.
	pubMu  sync.Mutex
	subs   map[int]chan Entry
	nextID int

	now func() time.Time
}

// NewSink creates a sink holding at most maxEntries entries.
// If maxEntries is 0 or negative, DefaultMaxEntries is used.
func NewSink(maxEntries int) *Sink {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Sink{
		entries:  make([]Entry, maxEntries),
		capacity: maxEntries,
		subs:     make(map[int]chan Entry),
		now:      time.Now,
	}
}

// Append stamps, stores and publishes a new entry.
func (s *Sink) Append(level Level, message string) Entry {
	entry := Entry{
		Timestamp: s.now().Truncate(time.Millisecond),
		Level:     level,
		Message:   message,
	}

	s.mu.Lock()
	s.write(entry)
	s.pubMu.Lock()
	s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- entry:
		default:
			// subscriber is behind; drop rather than block the sink
		}
	}
	s.pubMu.Unlock()
	return entry
}

func (s *Sink) write(entry Entry) {
	s.entries[s.head] = entry
	s.head = (s.head + 1) % s.capacity
	if s.count < s.capacity {
		s.count++
	}
}

// Drain appends every record received until records is closed.
// It is the single consumer of the queue the stream readers feed.
func (s *Sink) Drain(records <-chan Record) {
	for r := range records {
		s.Append(r.Level, r.Message)
	}
}

// Snapshot returns a copy of all entries, oldest first.
func (s *Sink) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedLocked()
}

func (s *Sink) orderedLocked() []Entry {
	result := make([]Entry, s.count)
	if s.count == 0 {
		return result
	}
	start := (s.head - s.count + s.capacity) % s.capacity
	copied := copy(result, s.entries[start:min(start+s.count, s.capacity)])
	copy(result[copied:], s.entries[:s.count-copied])
	return result
}

// Recent returns a copy of the n most recent entries, oldest first.
func (s *Sink) Recent(n int) []Entry {
	entries := s.Snapshot()
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

// Len returns the current number of entries.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// MaxEntries returns the current cap.
func (s *Sink) MaxEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// SetMaxEntries changes the cap, evicting the oldest entries if the sink
// currently holds more than n.
func (s *Sink) SetMaxEntries(n int) {
	if n <= 0 {
		n = DefaultMaxEntries
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == s.capacity {
		return
	}
	kept := s.orderedLocked()
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	s.entries = make([]Entry, n)
	copy(s.entries, kept)
	s.capacity = n
	s.count = len(kept)
	s.head = s.count % n
}

// Clear removes all entries. The cap is unchanged.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = 0
	s.count = 0
	for i := range s.entries {
		s.entries[i] = Entry{}
	}
}

// Subscribe registers an observer for new entries. Delivery never blocks the
// sink: when the channel buffer is full the entry is dropped for that observer.
// The returned cancel func unregisters and closes the channel.
func (s *Sink) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)

	s.pubMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.pubMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.pubMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.pubMu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of registered observers.
func (s *Sink) Subscribers() int {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	return len(s.subs)
}

// Levels returns the logrus levels mirrored into the sink.
func (s *Sink) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel, log.InfoLevel}
}

// Fire implements logrus.Hook.
func (s *Sink) Fire(entry *log.Entry) error {
	if src, ok := entry.Data[SourceField].(string); ok && src == SourceSupervisor {
		return nil
	}
	s.Append(levelFromLogrus(entry.Level), entry.Message)
	return nil
}

func levelFromLogrus(l log.Level) Level {
	switch l {
	case log.PanicLevel, log.FatalLevel, log.ErrorLevel:
		return LevelError
	case log.WarnLevel:
		return LevelWarning
	default:
		return LevelInfo
	}
}
