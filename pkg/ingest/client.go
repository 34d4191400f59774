package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wikistream/pkg/models"
)

const (
	DefaultEndpoint = "https://api.tinybird.co/v0/events?name=wiki_events"
	DefaultTimeout  = 30 * time.Second

	maxErrorBody = 64 * 1024
)

var ErrMisconfigured = errors.New("ingest endpoint and token are required")

// StatusError is returned when the endpoint answers with anything but 200 or 202
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ingestion rejected: status=%s body=%s", e.Status, e.Body)
}

type Client struct {
	Endpoint   string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Send posts records as one NDJSON request. Nothing is retried.
func (c Client) Send(ctx context.Context, records []models.Record) error {
	endpoint := strings.TrimSpace(c.Endpoint)
	token := strings.TrimSpace(c.Token)
	if endpoint == "" || token == "" {
		return ErrMisconfigured
	}
	if len(records) == 0 {
		return nil
	}

	body, err := EncodeNDJSON(records)
	if err != nil {
		return err
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := strings.TrimSpace(string(payload))
		if readErr != nil {
			detail = strings.TrimSpace(fmt.Sprintf("%s (reading body: %v)", detail, readErr))
		}
		return &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       detail,
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// EncodeNDJSON writes one JSON object per line with no trailing newline
func EncodeNDJSON(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	for i, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}
