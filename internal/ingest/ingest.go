package ingest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"telemetry-service/internal/observability"
	"telemetry-service/internal/store"

	"gorm.io/datatypes"
)

// ValidationError names the payload fields that were missing or non-numeric.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Fields, " & ") + " must be numbers"
}

// Broadcaster receives each reading after it has been persisted.
type Broadcaster interface {
	BroadcastReading(*store.Reading)
}

// ReadingInput is a candidate reading from any ingest transport. Temperature
// and humidity are pointers so "absent" and "zero" stay distinguishable.
type ReadingInput struct {
	Temperature *float64
	Humidity    *float64
	DeviceID    string
	TS          time.Time
	Raw         []byte
	Source      string
}

// Gateway validates readings, persists them, and only then triggers fan-out,
// so history is never behind the live stream.
type Gateway struct {
	Repo *store.Repo
	Hub  Broadcaster
}

func (g *Gateway) Ingest(ctx context.Context, in ReadingInput) (*store.Reading, error) {
	var bad []string
	if in.Temperature == nil || !isFinite(*in.Temperature) {
		bad = append(bad, "temperature")
	}
	if in.Humidity == nil || !isFinite(*in.Humidity) {
		bad = append(bad, "humidity")
	}
	if len(bad) > 0 {
		return nil, &ValidationError{Fields: bad}
	}

	p := &store.Reading{
		DeviceID:    strings.TrimSpace(in.DeviceID),
		Temperature: *in.Temperature,
		Humidity:    *in.Humidity,
		TS:          in.TS,
	}
	if len(in.Raw) > 0 {
		p.Raw = datatypes.JSON(append([]byte(nil), in.Raw...))
	}

	if err := g.Repo.InsertReading(ctx, p); err != nil {
		return nil, fmt.Errorf("persist reading: %w", err)
	}

	source := in.Source
	if source == "" {
		source = "http"
	}
	observability.ReadingsIngested.WithLabelValues(source).Inc()

	if g.Hub != nil {
		g.Hub.BroadcastReading(p)
	}
	return p, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
