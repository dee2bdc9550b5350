package store

import (
	"context"
	"log/slog"
	"time"
)

// Audit record kinds
const (
	AuditOutboundPlan   = "outbound_plan"
	AuditOutboundResult = "outbound_result"
	AuditInboundPlan    = "inbound_plan"
)

var auditFiles = map[string]string{
	AuditOutboundPlan:   FileOutboundPlan,
	AuditOutboundResult: FileOutboundResult,
	AuditInboundPlan:    FileInboundPlan,
}

// AuditSink receives a copy of every audit record
type AuditSink interface {
	Record(ctx context.Context, kind string, record any) error
}

// AuditLog keeps the latest record of each kind in the data directory and
// forwards it to additional sinks
type AuditLog struct {
	dir   *Dir
	sinks []AuditSink
}

// NewAuditLog creates an audit log in dir
func NewAuditLog(dir *Dir, sinks ...AuditSink) *AuditLog {
	return &AuditLog{dir: dir, sinks: sinks}
}

// AddSink registers an extra sink
func (a *AuditLog) AddSink(sink AuditSink) {
	a.sinks = append(a.sinks, sink)
}

// Record persists record. Failures are logged and never block the caller.
func (a *AuditLog) Record(ctx context.Context, kind string, record any) {
	if name, ok := auditFiles[kind]; ok {
		if err := a.dir.WriteJSON(name, record, false); err != nil {
			slog.Error("Failed to write audit record", "kind", kind, "error", err)
		}
	}
	for _, sink := range a.sinks {
		if err := sink.Record(ctx, kind, record); err != nil {
			slog.Error("Failed to forward audit record", "kind", kind, "error", err)
		}
	}
}

// Latest decodes the latest record of kind into v
func (a *AuditLog) Latest(kind string, v any) (bool, error) {
	name, ok := auditFiles[kind]
	if !ok {
		return false, nil
	}
	return a.dir.ReadJSON(name, v)
}

// InboundCursor remembers how far the inbound scan has progressed. Seen holds
// the last processed update time per inventory item so that records read
// again through the overlap are not applied twice.
type InboundCursor struct {
	LastRunAt    time.Time            `json:"last_run_at"`
	MaxUpdatedAt time.Time            `json:"max_updated_at"`
	Seen         map[string]time.Time `json:"seen,omitempty"`
}

// LoadCursor returns the saved cursor; the zero cursor when absent
func (d *Dir) LoadCursor() InboundCursor {
	var c InboundCursor
	if _, err := d.ReadJSON(FileInboundCursor, &c); err != nil {
		slog.Error("Failed to load inbound cursor", "error", err)
		return InboundCursor{}
	}
	return c
}

// SaveCursor persists c
func (d *Dir) SaveCursor(c InboundCursor) error {
	return d.WriteJSON(FileInboundCursor, c, true)
}
