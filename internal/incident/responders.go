package incident

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"custodia/pkg/requestcontext"
)

// LogResponder is the built-in responder for deployments without an agent
// fleet. Containment actions are recorded as dispatched operator work orders
// rather than executed remotely; forensics capture produces a signed manifest
// of what an operator must preserve. Production deployments replace it with
// ActionExecutor, SnapshotSource, and LogSource implementations backed by
// their EDR and log infrastructure.
type LogResponder struct {
	logger *slog.Logger
}

func NewLogResponder(logger *slog.Logger) *LogResponder {
	return &LogResponder{logger: logger}
}

func (r *LogResponder) Execute(ctx context.Context, action ActionType, target string) (string, error) {
	r.logger.WarnContext(ctx, "containment work order dispatched",
		"action", action,
		"target", target,
	)
	return "dispatched", nil
}

// captureManifest records what must be preserved and by whom; the bundle
// signature covers it so the chain of custody starts at dispatch time.
type captureManifest struct {
	System     string    `json:"system"`
	Kind       string    `json:"kind"`
	Host       string    `json:"host"`
	CapturedAt time.Time `json:"captured_at"`
}

func (r *LogResponder) CaptureSnapshot(ctx context.Context, system string) ([]byte, error) {
	return r.manifest(ctx, system, "system_snapshot")
}

func (r *LogResponder) ExtractLogs(ctx context.Context, system string) ([]byte, error) {
	return r.manifest(ctx, system, "log_extract")
}

func (r *LogResponder) manifest(ctx context.Context, system, kind string) ([]byte, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return json.Marshal(captureManifest{
		System:     system,
		Kind:       kind,
		Host:       host,
		CapturedAt: requestcontext.Now(ctx).UTC(),
	})
}
