// Package metrics records one data point per finished task.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/logging"
)

// Measurement is the Influx measurement name for task points.
const Measurement = "ps3_task"

// TaskOutcome summarizes one processed task.
type TaskOutcome struct {
	TaskID      string
	Status      string
	FailureKind string
	Provider    string
	Variants    int
	Rows        int
	Duration    time.Duration
	Categories  map[string]int
	FinishedAt  time.Time
}

// Recorder receives task outcomes.
type Recorder interface {
	RecordTask(ctx context.Context, outcome TaskOutcome) error
	Close()
}

// Noop discards every outcome.
type Noop struct{}

func (Noop) RecordTask(context.Context, TaskOutcome) error { return nil }
func (Noop) Close()                                         {}

// Influx writes outcomes to an InfluxDB 2 bucket with the blocking write API.
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// New returns an Influx recorder when metrics are enabled and Noop otherwise.
func New(ctx context.Context, cfg config.Metrics, logger *slog.Logger) (Recorder, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	recorder, err := NewInflux(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logging.NewComponentLogger(logger, "metrics").Info("influx metrics enabled",
		logging.String("url", cfg.URL),
		logging.String("bucket", cfg.Bucket),
	)
	return recorder, nil
}

// NewInflux connects and checks server health.
func NewInflux(ctx context.Context, cfg config.Metrics) (*Influx, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx health status %q", health.Status)
	}
	return &Influx{client: client, writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

// RecordTask writes one point.
func (i *Influx) RecordTask(ctx context.Context, outcome TaskOutcome) error {
	if err := i.writer.WritePoint(ctx, Point(outcome)); err != nil {
		return fmt.Errorf("write task point: %w", err)
	}
	return nil
}

// Close releases the client.
func (i *Influx) Close() {
	i.client.Close()
}

// Point converts an outcome into a line-protocol point. Category counts are
// written as category_<name> fields.
func Point(outcome TaskOutcome) *write.Point {
	tags := map[string]string{"status": outcome.Status}
	if outcome.FailureKind != "" {
		tags["failure_kind"] = outcome.FailureKind
	}
	if outcome.Provider != "" {
		tags["provider"] = outcome.Provider
	}
	fields := map[string]any{
		"task_id":          outcome.TaskID,
		"duration_seconds": outcome.Duration.Seconds(),
		"variants":         outcome.Variants,
		"rows":             outcome.Rows,
	}
	for category, count := range outcome.Categories {
		fields["category_"+strings.ToLower(category)] = count
	}
	at := outcome.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}
	return influxdb2.NewPoint(Measurement, tags, fields, at)
}
