package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
)

// testRunLoop creates a loop, runs it on a new goroutine, and shuts it down
// when the test ends.
func testRunLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	loop, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	runErr := make(chan error, 1)
	go func() {
		runErr <- loop.Run(context.Background())
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loop.Shutdown(ctx); err != nil && !errors.Is(err, ErrLoopTerminated) {
			t.Error("shutdown failed:", err)
		}
		if err := <-runErr; err != nil {
			t.Error("run failed:", err)
		}
	})
	return loop
}

// testIterateUntil drives loop from the calling goroutine until cond holds.
func testIterateUntil(t *testing.T, loop *Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out iterating the loop")
		}
		loop.Iterate(false)
		time.Sleep(time.Millisecond)
	}
}

// testEvent is a minimal logiface.Event that records what was logged.
type testEvent struct {
	logiface.UnimplementedEvent
	fields map[string]any
	msg    string
	level  logiface.Level
}

func (e *testEvent) Level() logiface.Level { return e.level }

func (e *testEvent) AddField(key string, val any) { e.fields[key] = val }

func (e *testEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

type testLogSink struct {
	mu     sync.Mutex
	events []*testEvent
}

func (s *testLogSink) Logger() *logiface.Logger[logiface.Event] {
	return logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](logiface.NewEventFactoryFunc(func(level logiface.Level) *testEvent {
			return &testEvent{level: level, fields: make(map[string]any)}
		})),
		logiface.WithWriter[*testEvent](logiface.NewWriterFunc(func(e *testEvent) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.events = append(s.events, e)
			return nil
		})),
		logiface.WithLevel[*testEvent](logiface.LevelInformational),
	).Logger()
}

func (s *testLogSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []string
	for _, e := range s.events {
		msgs = append(msgs, e.msg)
	}
	return msgs
}
