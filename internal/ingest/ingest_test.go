package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"telemetry-service/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingHub struct {
	readings []*store.Reading
}

func (h *recordingHub) BroadcastReading(r *store.Reading) {
	h.readings = append(h.readings, r)
}

func newTestGateway(t *testing.T) (*Gateway, *recordingHub) {
	t.Helper()
	// Use a unique in-memory DB per test to avoid cross-test contamination.
	dsn := "file:ingest_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hub := &recordingHub{}
	return &Gateway{Repo: repo, Hub: hub}, hub
}

func f(v float64) *float64 { return &v }

func TestIngestNamesMissingFields(t *testing.T) {
	gw, hub := newTestGateway(t)

	_, err := gw.Ingest(context.Background(), ReadingInput{Humidity: f(50)})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Fields) != 1 || vErr.Fields[0] != "temperature" {
		t.Fatalf("unexpected fields: %v", vErr.Fields)
	}

	_, err = gw.Ingest(context.Background(), ReadingInput{})
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Fields) != 2 {
		t.Fatalf("expected both fields named, got %v", vErr.Fields)
	}

	if len(hub.readings) != 0 {
		t.Fatalf("rejected input must not broadcast")
	}
}

func TestIngestPersistsBeforeBroadcast(t *testing.T) {
	gw, hub := newTestGateway(t)
	ctx := context.Background()

	reading, err := gw.Ingest(ctx, ReadingInput{Temperature: f(21.5), Humidity: f(60.2)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if reading.ID == uuid.Nil {
		t.Fatalf("expected assigned id")
	}
	if reading.DeviceID != store.DefaultDeviceID {
		t.Fatalf("expected sentinel device id, got %q", reading.DeviceID)
	}

	rows, err := gw.Repo.RecentReadings(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != reading.ID {
		t.Fatalf("ingested reading not found in history")
	}

	if len(hub.readings) != 1 || hub.readings[0].ID != reading.ID {
		t.Fatalf("broadcast reading does not match persisted one")
	}
	// The broadcast carries the persisted form, id included.
	if hub.readings[0].Temperature != 21.5 || hub.readings[0].Humidity != 60.2 {
		t.Fatalf("broadcast values differ: %+v", hub.readings[0])
	}
}

func TestIngestKeepsCallerTimestampAndDevice(t *testing.T) {
	gw, _ := newTestGateway(t)
	// Retention filtering works off wall clock, so use a recent explicit ts.
	ts := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	reading, err := gw.Ingest(context.Background(), ReadingInput{
		Temperature: f(19), Humidity: f(45), DeviceID: "greenhouse-2", TS: ts,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if reading.DeviceID != "greenhouse-2" {
		t.Fatalf("device id lost: %q", reading.DeviceID)
	}
	if !reading.TS.Equal(ts) {
		t.Fatalf("timestamp lost: %v != %v", reading.TS, ts)
	}
}

type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }
func (m fakeMessage) Retained() bool  { return m.retained }

func TestMQTTIngestStoresReading(t *testing.T) {
	gw, hub := newTestGateway(t)
	ing := &MQTTIngestor{Gateway: gw, TopicPrefix: "telemetry/readings/"}
	now := time.Now().UTC()

	ing.HandleMessage(context.Background(), fakeMessage{
		topic:   "telemetry/readings/shed-7",
		payload: []byte(`{"temperature":18.2,"humidity":71.0}`),
	}, now)

	rows, err := gw.Repo.RecentReadings(context.Background(), 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected stored reading")
	}
	if rows[0].DeviceID != "shed-7" {
		t.Fatalf("expected device from topic, got %q", rows[0].DeviceID)
	}
	if len(hub.readings) != 1 {
		t.Fatalf("expected broadcast")
	}
}

func TestMQTTIngestDropsMalformed(t *testing.T) {
	gw, hub := newTestGateway(t)
	ing := &MQTTIngestor{Gateway: gw, TopicPrefix: "telemetry/readings/"}
	now := time.Now().UTC()

	for _, msg := range []fakeMessage{
		{topic: "telemetry/readings/x", payload: []byte(`{"temperature":"hot","humidity":50}`)},
		{topic: "telemetry/readings/x", payload: []byte(`not json`)},
		{topic: "other/topic", payload: []byte(`{"temperature":1,"humidity":2}`)},
		{topic: "telemetry/readings/x", payload: []byte(`{"temperature":1,"humidity":2}`), retained: true},
	} {
		ing.HandleMessage(context.Background(), msg, now)
	}

	n, err := gw.Repo.CountReadings(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing stored, got %d", n)
	}
	if len(hub.readings) != 0 {
		t.Fatalf("expected nothing broadcast")
	}
}

func TestParseDeviceID(t *testing.T) {
	id, err := ParseDeviceID("telemetry/readings/", "telemetry/readings/barn/3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "barn/3" {
		t.Fatalf("unexpected id %q", id)
	}

	if _, err := ParseDeviceID("telemetry/readings/", "unrelated/topic"); !errors.Is(err, ErrNotAReadingTopic) {
		t.Fatalf("expected ErrNotAReadingTopic, got %v", err)
	}
}
