package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/audit"
	"custodia/internal/incident"
	"custodia/internal/platform/metrics"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// sampleEventIDs caps how many matched event IDs land in initial findings.
const sampleEventIDs = 5

// EventSource is the slice of the audit pipeline the detector reads from.
type EventSource interface {
	QueryWindow(ctx context.Context, filter audit.Filter, from, to time.Time) ([]audit.Event, error)
}

// IncidentCreator raises incidents from rule matches.
type IncidentCreator interface {
	CreateIncident(ctx context.Context, spec incident.CreateSpec) (*incident.Incident, error)
}

// Detector evaluates the rule set over a sliding audit window. Sweeps are
// idempotent: an unchanged window never raises a duplicate incident.
type Detector struct {
	rules     []Rule
	events    EventSource
	incidents IncidentCreator
	dedupe    DedupeStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	dedupeTTL time.Duration

	sweeping atomic.Bool
}

type Option func(*Detector)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithDedupeTTL overrides how long a dedupe key suppresses re-raising. Zero
// keeps the default of twice the matching rule's window.
func WithDedupeTTL(ttl time.Duration) Option {
	return func(d *Detector) { d.dedupeTTL = ttl }
}

func NewDetector(rules []Rule, events EventSource, incidents IncidentCreator, dedupe DedupeStore, logger *slog.Logger, opts ...Option) *Detector {
	d := &Detector{
		rules:     rules,
		events:    events,
		incidents: incidents,
		dedupe:    dedupe,
		logger:    logger,
		tracer:    otel.Tracer("custodia/detection"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sweep evaluates every rule once and returns how many incidents it raised.
// A sweep that finds another sweep in flight skips instead of queueing.
func (d *Detector) Sweep(ctx context.Context) (int, error) {
	if !d.sweeping.CompareAndSwap(false, true) {
		if d.metrics != nil {
			d.metrics.DetectionSkipped.Inc()
		}
		d.logger.InfoContext(ctx, "detection sweep skipped, previous sweep still running")
		return 0, nil
	}
	defer d.sweeping.Store(false)

	ctx, span := d.tracer.Start(ctx, "detection.sweep")
	defer span.End()

	now := requestcontext.Now(ctx).UTC()
	created := 0
	var errs []error
	for _, rule := range d.rules {
		n, err := d.evaluate(ctx, rule, now)
		created += n
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
		}
	}

	if d.metrics != nil {
		d.metrics.DetectionSweeps.Inc()
	}
	return created, errors.Join(errs...)
}

func (d *Detector) evaluate(ctx context.Context, rule Rule, now time.Time) (int, error) {
	from := now.Add(-rule.Window)
	events, err := d.events.QueryWindow(ctx, rule.filter(), from, now.Add(time.Second))
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]audit.Event)
	for _, e := range events {
		key := rule.groupOf(e)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], e)
	}

	created := 0
	for key, matched := range groups {
		if len(matched) < rule.Threshold {
			continue
		}

		// The last matched event pins the dedupe key: re-sweeping an
		// unchanged window reproduces the same key and is dropped.
		last := matched[len(matched)-1]
		dedupeKey := fmt.Sprintf("%s|%s|%d", rule.Name, key, last.Timestamp.UnixNano())
		ttl := d.dedupeTTL
		if ttl == 0 {
			ttl = 2 * rule.Window
		}
		fresh, err := d.dedupe.MarkIfNew(ctx, dedupeKey, ttl)
		if err != nil {
			return created, dErrors.Wrap(err, dErrors.CodeUnavailable, "detection dedupe store unavailable")
		}
		if !fresh {
			continue
		}

		if err := d.raise(ctx, rule, key, matched); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (d *Detector) raise(ctx context.Context, rule Rule, group string, matched []audit.Event) error {
	samples := make([]string, 0, sampleEventIDs)
	for _, e := range matched[:min(len(matched), sampleEventIDs)] {
		samples = append(samples, e.ID.String())
	}

	var affectedUsers []string
	var affectedSystems []string
	if rule.GroupBy == GroupByActor {
		affectedUsers = []string{group}
	}
	for _, e := range matched {
		if e.ResourceType == "system" && e.ResourceID != "" {
			affectedSystems = appendUnique(affectedSystems, e.ResourceID)
		}
	}

	spec := incident.CreateSpec{
		Type:            rule.IncidentType,
		Severity:        string(rule.Severity),
		Description:     fmt.Sprintf("%s: %d matching events for %s within %s", rule.Title, len(matched), group, rule.Window),
		DetectionMethod: incident.DetectionAutomated,
		AffectedSystems: affectedSystems,
		AffectedUsers:   affectedUsers,
		InitialFindings: map[string]any{
			"rule":             rule.Name,
			"group_by":         string(rule.GroupBy),
			"group":            group,
			"matched_count":    len(matched),
			"first_event_at":   matched[0].Timestamp,
			"last_event_at":    matched[len(matched)-1].Timestamp,
			"sample_event_ids": samples,
		},
	}

	inc, err := d.incidents.CreateIncident(ctx, spec)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to raise detected incident")
	}
	d.logger.InfoContext(ctx, "pattern detected, incident raised",
		"rule", rule.Name,
		"group", group,
		"matched", len(matched),
		"incident_id", inc.ID.Reference(),
	)
	return nil
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
