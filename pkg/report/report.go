// Package report defines the narrow contract this core uses to surface
// operational incidents to the platform's observability pipeline. The
// pipeline itself (alert routing, paging, retention) lives outside the core.
package report

import (
	"context"
	"log/slog"
	"sync"
)

// Severity ranks an incident by blast radius.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Incident is one structured report emitted by the core.
//
// Recoverable marks incidents the platform may retry or resume; security
// violations are reported with Recoverable=false but are still always
// reported, since they can indicate tampering.
type Incident struct {
	Severity    Severity
	Code        string
	Message     string
	Recoverable bool
	Fields      map[string]string
}

// Reporter receives incidents. Implementations must be safe for concurrent
// use.
type Reporter interface {
	Report(ctx context.Context, incident Incident)
}

// SlogReporter writes incidents to a structured logger. It is the default
// sink when no external telemetry pipeline is wired.
type SlogReporter struct {
	log *slog.Logger
}

// NewSlogReporter scopes a reporter onto the given logger.
func NewSlogReporter(log *slog.Logger) *SlogReporter {
	if log == nil {
		log = slog.Default()
	}
	return &SlogReporter{log: log.With("component", "report")}
}

func (r *SlogReporter) Report(ctx context.Context, incident Incident) {
	attrs := make([]any, 0, 6+2*len(incident.Fields))
	attrs = append(attrs,
		"severity", string(incident.Severity),
		"code", incident.Code,
		"recoverable", incident.Recoverable,
	)
	for key, value := range incident.Fields {
		attrs = append(attrs, key, value)
	}

	switch incident.Severity {
	case SeverityCritical:
		r.log.ErrorContext(ctx, incident.Message, attrs...)
	case SeverityHigh:
		r.log.WarnContext(ctx, incident.Message, attrs...)
	default:
		r.log.InfoContext(ctx, incident.Message, attrs...)
	}
}

// Recorder is a test double that captures incidents in order.
type Recorder struct {
	mu        sync.Mutex
	incidents []Incident
}

func (r *Recorder) Report(_ context.Context, incident Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, incident)
}

// Incidents returns a copy of everything reported so far.
func (r *Recorder) Incidents() []Incident {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Incident, len(r.incidents))
	copy(out, r.incidents)
	return out
}
