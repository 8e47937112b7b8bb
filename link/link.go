// Package link connects the drive to a remote operator: a sink for status lines and a source of
// velocity commands. The byte format on the wire belongs to each transport.
package link

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"go.viam.com/omnidrive/components/base"
)

// A Sink accepts one telemetry line at a time. Send may block on I/O; callers that cannot wait
// run it in their own goroutine.
type Sink interface {
	Send(ctx context.Context, line []byte) error
	Close() error
}

// A CommandSource delivers velocity commands to handler until ctx is done or the source fails.
type CommandSource interface {
	Serve(ctx context.Context, handler func(base.VelocityCommand)) error
}

// MemorySink keeps every line sent to it.
type MemorySink struct {
	mu    sync.Mutex
	lines []string
	err   error
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Send records line, or returns the injected error.
func (s *MemorySink) Send(ctx context.Context, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, string(line))
	return nil
}

// SetError makes every following Send fail with err.
func (s *MemorySink) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Lines returns a copy of the recorded lines.
func (s *MemorySink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Last returns the most recent line, or "" if none.
func (s *MemorySink) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

// Close is a no-op.
func (s *MemorySink) Close() error {
	return nil
}

// Sinks fans a line out to several sinks.
type Sinks []Sink

// Send sends to every sink, even after one fails, and combines the errors.
func (ss Sinks) Send(ctx context.Context, line []byte) error {
	var err error
	for _, s := range ss {
		err = multierr.Combine(err, s.Send(ctx, line))
	}
	return err
}

// Close closes every sink.
func (ss Sinks) Close() error {
	var err error
	for _, s := range ss {
		err = multierr.Combine(err, s.Close())
	}
	return err
}
