package cancellable

import (
	"sync"

	"github.com/joeycumines/logiface"
)

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

// testLogSink collects events written by the logger it returns.
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
		logiface.WithLevel[*testEvent](logiface.LevelTrace),
	).Logger()
}

func (s *testLogSink) Events() []*testEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*testEvent(nil), s.events...)
}
