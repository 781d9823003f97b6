package testevents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// getJSON performs a GET request and decodes a 200 response into out.
func (c *HTTPClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// postJSON performs a POST request with a JSON body.
func (c *HTTPClient) postJSON(ctx context.Context, url string, body any) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	out, err := readResponseBody(resp)
	return resp.StatusCode, out, err
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// submitEvents posts events to /v1/events with a pool of cfg.Workers.
func submitEvents(ctx context.Context, cfg *Config, events []model.EventRecord, stats *Stats) {
	logger.Get().Info(ctx, "submitting events", logger.Int("events", len(events)), logger.Int("workers", cfg.Workers))

	client := newHTTPClient(cfg.Timeout)
	url := cfg.BaseURL + "/v1/events"

	var submitted, successful, failed atomic.Int64
	eventChan := make(chan model.EventRecord, cfg.Workers*2)
	var wg sync.WaitGroup

	for range max(cfg.Workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range eventChan {
				submitted.Add(1)
				if err := submitSingleEvent(ctx, client, url, ev); err != nil {
					failed.Add(1)
					if cfg.Verbose {
						logger.Get().Warn(ctx, "event rejected", logger.String("event_id", ev.EventID), logger.Error(err))
					}
					continue
				}
				successful.Add(1)
			}
		}()
	}

	go func() {
		defer close(eventChan)
		for _, ev := range events {
			select {
			case <-ctx.Done():
				return
			case eventChan <- ev:
			}
		}
	}()
	wg.Wait()

	stats.EventsSubmitted += int(submitted.Load())
	stats.EventsSuccessful += int(successful.Load())
	stats.EventsFailed += int(failed.Load())

	logger.Get().Info(ctx, "event submission completed",
		logger.Int64("successful", successful.Load()),
		logger.Int64("failed", failed.Load()))
}

// submitSingleEvent posts one event; anything but 202 is a failure.
func submitSingleEvent(ctx context.Context, client *HTTPClient, url string, ev model.EventRecord) error {
	status, body, err := client.postJSON(ctx, url, ev)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("status %d: %s", status, bytes.TrimSpace(body))
	}
	var ack AckResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if ack.Status != "accepted" {
		return fmt.Errorf("unexpected ack status %q", ack.Status)
	}
	return nil
}
