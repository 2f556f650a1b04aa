package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore"
)

// FirestoreSink stores one document per event.
type FirestoreSink struct {
	Client     *firestore.Client
	Collection string
}

func (s *FirestoreSink) Write(ctx context.Context, ev Event) error {
	if _, err := s.Client.Collection(s.Collection).Doc(ev.ID).Set(ctx, ev); err != nil {
		return fmt.Errorf("failed to store event %s: %w", ev.Name, err)
	}
	return nil
}

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Write(_ context.Context, ev Event) error {
	attrs := []any{"runId", ev.RunID, "user", ev.User, "event", ev.Name}
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}
	slog.Info("Run event", attrs...)
	return nil
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (s *MemorySink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Names lists the names of the recorded events in order.
func (s *MemorySink) Names() []string {
	var names []string
	for _, ev := range s.Events() {
		names = append(names, ev.Name)
	}
	return names
}
