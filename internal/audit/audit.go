// Package audit records security-relevant decisions. Recording is best
// effort: a failed write is logged and never fails the operation it
// describes.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/snaglist/internal/dispatch"
	"github.com/dukerupert/snaglist/internal/model"
)

// Writer persists audit entries.
type Writer interface {
	Insert(ctx context.Context, e *model.AuditEntry) error
}

type Recorder struct {
	writer Writer
	queue  *dispatch.Queue
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder writes through queue when non-nil, otherwise inline.
func NewRecorder(writer Writer, queue *dispatch.Queue, logger *slog.Logger) *Recorder {
	return &Recorder{
		writer: writer,
		queue:  queue,
		logger: logger,
		now:    time.Now,
	}
}

// Event describes one decision about a link.
type Event struct {
	Kind    model.EventKind
	LinkID  string
	ActorID string
	Caller  model.CallerInfo
	Success bool
	Detail  string
}

// Record converts ev into an audit entry and logs it.
func (r *Recorder) Record(ev Event) {
	e := model.AuditEntry{
		Kind:         ev.Kind,
		ResourceType: model.ResourceAccessLink,
		IP:           ev.Caller.IP,
		UserAgent:    ev.Caller.UserAgent,
		Success:      ev.Success,
		Detail:       ev.Detail,
	}
	if ev.Kind == model.EventRateLimited {
		e.ResourceType = model.ResourceRateLimit
	}
	if ev.LinkID != "" {
		id := ev.LinkID
		e.ResourceID = &id
	}
	if ev.ActorID != "" {
		actor := ev.ActorID
		e.ActorID = &actor
	}
	r.Log(e)
}

// Log appends e. It returns once the write is queued or done.
func (r *Recorder) Log(e model.AuditEntry) {
	if r == nil || r.writer == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	if r.queue == nil {
		r.write(context.Background(), &e)
		return
	}
	if err := r.queue.Submit(dispatch.Job{
		Name: "audit:" + e.Kind.String(),
		Run: func(ctx context.Context) error {
			r.write(ctx, &e)
			return nil
		},
	}); err != nil {
		r.logger.Warn("audit entry not queued", "kind", e.Kind.String(), "error", err)
	}
}

func (r *Recorder) write(ctx context.Context, e *model.AuditEntry) {
	if err := r.writer.Insert(ctx, e); err != nil {
		r.logger.Error("write audit entry", "kind", e.Kind.String(), "error", err)
	}
}
