// Package eventsink appends login attempts, security events and audit
// entries to durable storage off the request path.
package eventsink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	auth "github.com/castellan/castellan"
)

// Recorder accepts trail records and persists them from a background
// worker started with Run.
type Recorder interface {
	auth.EventRecorder
	Run(ctx context.Context) error
}

// record is a tagged union of the three trail kinds.
type record struct {
	attempt *auth.LoginAttempt
	event   *auth.SecurityEvent
	audit   *auth.AuditEntry
}

// service is an implementation of auth.EventRecorder.
type service struct {
	logger       log.Logger
	repoMngr     auth.RepositoryManager
	queue        chan record
	writeTimeout time.Duration
	dropped      uint64
}

// Attempt records a login attempt.
func (s *service) Attempt(ctx context.Context, attempt *auth.LoginAttempt) {
	s.enqueue(record{attempt: attempt})
}

// Event records a security event.
func (s *service) Event(ctx context.Context, event *auth.SecurityEvent) {
	s.enqueue(record{event: event})
}

// Audit records an admin audit entry.
func (s *service) Audit(ctx context.Context, entry *auth.AuditEntry) {
	s.enqueue(record{audit: entry})
}

// Dropped reports records discarded due to sink saturation.
func (s *service) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Run drains the queue into storage until the context is canceled.
// Records already buffered are flushed before returning.
func (s *service) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-s.queue:
			s.write(rec)
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		}
	}
}

// enqueue never blocks the caller. A saturated queue drops the record
// and counts the loss.
func (s *service) enqueue(rec record) {
	select {
	case s.queue <- rec:
	default:
		atomic.AddUint64(&s.dropped, 1)
		level.Error(s.logger).Log(
			"source", "eventsink.enqueue",
			"message", "sink saturated, record dropped",
		)
	}
}

func (s *service) flush() {
	for {
		select {
		case rec := <-s.queue:
			s.write(rec)
		default:
			return
		}
	}
}

// write persists a single record. The triggering request is long gone
// so each write carries its own deadline.
func (s *service) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	var (
		kind string
		err  error
	)

	switch {
	case rec.attempt != nil:
		kind = "login_attempt"
		err = s.repoMngr.LoginAttempt().Create(ctx, rec.attempt)
	case rec.event != nil:
		kind = "security_event"
		err = s.repoMngr.SecurityEvent().Create(ctx, rec.event)
	case rec.audit != nil:
		kind = "audit_entry"
		err = s.repoMngr.Audit().Create(ctx, rec.audit)
	default:
		return
	}

	if err != nil {
		level.Error(s.logger).Log(
			"source", "eventsink.write",
			"message", "failed to persist record",
			"kind", kind,
			"error", err,
		)
	}
}
