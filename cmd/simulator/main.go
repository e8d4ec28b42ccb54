package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"
)

type reading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	DeviceID    string  `json:"deviceId"`
}

func main() {
	var targetURL string
	var apiKey string
	var deviceID string
	var interval time.Duration
	var timeout time.Duration
	var count int
	var seed int64

	flag.StringVar(&targetURL, "url", "http://localhost:3000/api/readings", "ingest endpoint URL")
	flag.StringVar(&apiKey, "api-key", "", "ingest API key")
	flag.StringVar(&deviceID, "device", "sim-1", "device identifier to report")
	flag.DurationVar(&interval, "interval", 5*time.Second, "delay between emitted readings")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP request timeout")
	flag.IntVar(&count, "count", 0, "number of readings to emit (0 = infinite)")
	flag.Int64Var(&seed, "seed", 0, "random seed (0 = use current time)")
	flag.Parse()

	if apiKey == "" {
		apiKey = os.Getenv("API_KEY")
	}
	if apiKey == "" {
		log.Fatal("api-key is required (flag or API_KEY env)")
	}
	if interval <= 0 {
		log.Fatal("interval must be > 0")
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	log.Printf("simulator started seed=%d target=%s interval=%s", seed, targetURL, interval)

	client := &http.Client{Timeout: timeout}
	temperature := 24.0
	humidity := 55.0

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	emitted := 0
	for {
		if count > 0 && emitted >= count {
			log.Printf("simulation complete (%d readings sent)", emitted)
			return
		}

		temperature = clamp(temperature+rng.NormFloat64()*0.2, 16.0, 36.0)
		humidity = clamp(humidity+rng.NormFloat64()*0.8, 20.0, 95.0)
		r := reading{
			Temperature: round1(temperature),
			Humidity:    round1(humidity),
			DeviceID:    deviceID,
		}

		if err := postReading(ctx, client, targetURL, apiKey, r); err != nil {
			log.Printf("send failed: %v", err)
		} else {
			emitted++
			log.Printf("sent #%d temp=%.1f humidity=%.1f", emitted, r.Temperature, r.Humidity)
		}

		select {
		case <-ctx.Done():
			log.Printf("simulation stopped")
			return
		case <-time.After(interval):
		}
	}
}

func postReading(ctx context.Context, client *http.Client, targetURL, apiKey string, r reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-API-Key", apiKey)

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusMultipleChoices {
		responseBody, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("status %d: %s", response.StatusCode, string(responseBody))
	}
	return nil
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}
