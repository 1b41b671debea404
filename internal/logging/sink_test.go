package logging

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestNewSink_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultMaxEntries, NewSink(0).MaxEntries())
	assert.Equal(t, DefaultMaxEntries, NewSink(-3).MaxEntries())
	assert.Equal(t, 7, NewSink(7).MaxEntries())
}

func TestSink_KeepsMostRecentInArrivalOrder(t *testing.T) {
	const max = 5
	for _, k := range []int{1, 2, 5, 11} {
		t.Run(fmt.Sprintf("overflow by %d", k), func(t *testing.T) {
			s := NewSink(max)
			for i := 0; i < max+k; i++ {
				s.Append(LevelInfo, fmt.Sprintf("line %d", i))
			}

			got := s.Snapshot()
			require.Len(t, got, max)
			want := make([]string, 0, max)
			for i := k; i < max+k; i++ {
				want = append(want, fmt.Sprintf("line %d", i))
			}
			assert.Equal(t, want, messages(got))
		})
	}
}

func TestSink_BelowCapacity(t *testing.T) {
	s := NewSink(10)
	s.Append(LevelInfo, "a")
	s.Append(LevelWarning, "b")

	got := s.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, messages(got))
	assert.Equal(t, LevelWarning, got[1].Level)
	assert.Equal(t, 2, s.Len())
}

func TestSink_SnapshotIsACopy(t *testing.T) {
	s := NewSink(3)
	s.Append(LevelInfo, "original")

	snap := s.Snapshot()
	snap[0].Message = "mutated"

	assert.Equal(t, "original", s.Snapshot()[0].Message)
}

func TestSink_ClearKeepsCapacity(t *testing.T) {
	s := NewSink(4)
	for i := 0; i < 6; i++ {
		s.Append(LevelInfo, "x")
	}
	s.Clear()

	assert.Empty(t, s.Snapshot())
	assert.Equal(t, 4, s.MaxEntries())

	for i := 0; i < 6; i++ {
		s.Append(LevelInfo, fmt.Sprint(i))
	}
	assert.Equal(t, []string{"2", "3", "4", "5"}, messages(s.Snapshot()))
}

func TestSink_Recent(t *testing.T) {
	s := NewSink(10)
	for i := 0; i < 5; i++ {
		s.Append(LevelInfo, fmt.Sprint(i))
	}
	assert.Equal(t, []string{"3", "4"}, messages(s.Recent(2)))
	assert.Len(t, s.Recent(0), 5)
	assert.Len(t, s.Recent(50), 5)
}

func TestSink_SetMaxEntries(t *testing.T) {
	s := NewSink(5)
	for i := 0; i < 7; i++ {
		s.Append(LevelInfo, fmt.Sprint(i))
	}

	s.SetMaxEntries(3)
	assert.Equal(t, []string{"4", "5", "6"}, messages(s.Snapshot()))

	s.Append(LevelInfo, "7")
	assert.Equal(t, []string{"5", "6", "7"}, messages(s.Snapshot()))

	s.SetMaxEntries(6)
	s.Append(LevelInfo, "8")
	assert.Equal(t, []string{"5", "6", "7", "8"}, messages(s.Snapshot()))
	assert.Equal(t, 6, s.MaxEntries())
}

func TestSink_TimestampMillisecondPrecision(t *testing.T) {
	s := NewSink(2)
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 891234567, time.UTC)
	s.now = func() time.Time { return fixed }

	e := s.Append(LevelInfo, "stamped")
	assert.Equal(t, 891000000, e.Timestamp.Nanosecond())
}

func TestSink_SubscribeReceivesNewEntries(t *testing.T) {
	s := NewSink(10)
	ch, cancel := s.Subscribe(4)
	defer cancel()

	s.Append(LevelError, "boom")

	select {
	case got := <-ch:
		assert.Equal(t, "boom", got.Message)
		assert.Equal(t, LevelError, got.Level)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}
}

func TestSink_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewSink(100)
	_, cancel := s.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			s.Append(LevelInfo, "flood")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append blocked on a full subscriber")
	}
	assert.Equal(t, 50, s.Len())
}

func TestSink_CancelClosesChannel(t *testing.T) {
	s := NewSink(10)
	ch, cancel := s.Subscribe(1)
	require.Equal(t, 1, s.Subscribers())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, s.Subscribers())

	// no subscribers: delivery is a no-op
	s.Append(LevelInfo, "nobody listening")
	assert.Equal(t, 1, s.Len())
}

func TestSink_DrainConsumesUntilClosed(t *testing.T) {
	s := NewSink(10)
	records := make(chan Record, 3)
	records <- Record{Level: LevelInfo, Message: "one"}
	records <- Record{Level: LevelError, Message: "two"}
	close(records)

	s.Drain(records)

	got := s.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, []string{"one", "two"}, messages(got))
	assert.Equal(t, LevelError, got[1].Level)
}

func TestSink_ConcurrentAppendRespectsCap(t *testing.T) {
	s := NewSink(50)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Append(LevelInfo, "x")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}

func TestSink_FireMirrorsShellLogs(t *testing.T) {
	s := NewSink(10)
	logger := log.New()
	logger.AddHook(s)
	logger.SetOutput(&discard{})

	logger.Warn("config reload failed")
	logger.WithField(SourceField, SourceSupervisor).Error("already in sink")
	logger.Debug("not mirrored")

	got := s.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "config reload failed", got[0].Message)
	assert.Equal(t, LevelWarning, got[0].Level)
}

func TestEntry_JSONRoundTrip(t *testing.T) {
	in := Entry{
		Timestamp: time.Date(2026, 10, 17, 9, 30, 1, 250000000, time.Local),
		Level:     LevelWarning,
		Message:   "deprecated flag --foo",
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"warning"`)

	var out Entry
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.Level, out.Level)
	assert.Equal(t, in.Message, out.Message)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
