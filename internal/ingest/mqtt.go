package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"telemetry-service/internal/store"
)

var ErrNotAReadingTopic = errors.New("not a reading topic")

// MQTTMessage is the slice of a broker message this package needs.
type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

// MQTTIngestor funnels broker messages into the same Gateway as HTTP ingest.
// Topic layout: <prefix><deviceId>, JSON body {temperature, humidity, ts?}.
// The broker connection is trusted; there is no per-message credential.
type MQTTIngestor struct {
	Gateway      *Gateway
	TopicPrefix  string
	AllowRetains bool
}

type mqttReading struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	DeviceID    string   `json:"deviceId"`
	TS          string   `json:"ts"`
}

func (i *MQTTIngestor) HandleMessage(ctx context.Context, msg MQTTMessage, receivedAt time.Time) {
	topic := msg.Topic()
	if msg.Retained() && !i.AllowRetains {
		slog.Debug("mqtt ingest ignoring retained", "topic", topic)
		return
	}

	deviceID, err := ParseDeviceID(i.TopicPrefix, topic)
	if err != nil {
		if errors.Is(err, ErrNotAReadingTopic) {
			return
		}
		slog.Warn("mqtt ingest topic parse failed", "topic", topic, "error", err)
		return
	}

	payload := msg.Payload()
	if len(payload) == 0 {
		return
	}

	var body mqttReading
	if err := json.Unmarshal(payload, &body); err != nil {
		slog.Warn("mqtt ingest invalid json", "topic", topic, "device_id", deviceID, "error", err)
		return
	}

	ts := receivedAt.UTC()
	if v := strings.TrimSpace(body.TS); v != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			ts = parsed.UTC()
		} else {
			slog.Warn("mqtt ingest invalid ts, using receive time", "topic", topic, "ts", v)
		}
	}

	if body.DeviceID != "" {
		deviceID = body.DeviceID
	}

	reading, err := i.Gateway.Ingest(ctx, ReadingInput{
		Temperature: body.Temperature,
		Humidity:    body.Humidity,
		DeviceID:    deviceID,
		TS:          ts,
		Raw:         payload,
		Source:      "mqtt",
	})
	if err != nil {
		slog.Warn("mqtt ingest rejected", "topic", topic, "device_id", deviceID, "error", err)
		return
	}
	slog.Debug("mqtt reading stored", "device_id", reading.DeviceID, "ts", reading.TS)
}

func ParseDeviceID(prefix, topic string) (string, error) {
	if prefix == "" {
		prefix = "telemetry/readings/"
	}
	if !strings.HasPrefix(topic, prefix) {
		return "", ErrNotAReadingTopic
	}
	id := strings.TrimPrefix(topic, prefix)
	id = strings.Trim(id, "/")
	if id == "" {
		return store.DefaultDeviceID, nil
	}
	return id, nil
}
