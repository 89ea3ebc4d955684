package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"fairsync/internal/config"
	"fairsync/internal/queue"
)

const maxErrorBodyBytes = 2048

// HTTPDoer describes the HTTP client used by the backend client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the CRM ingest endpoints. Every request carries the queue
// item id as an idempotency key so a retry after a lost response does not
// create a duplicate record server-side.
type Client struct {
	baseURL  string
	apiToken string
	timeout  time.Duration
	client   HTTPDoer
}

// UploadResult is the backend acknowledgement for a delivered capture.
type UploadResult struct {
	DocumentID string `json:"document_id"`
	Duplicate  bool   `json:"duplicate"`
}

// New constructs a backend client from configuration. A nil doer falls back
// to a plain http.Client with the configured request timeout.
func New(cfg *config.Config, doer HTTPDoer) *Client {
	timeout := time.Duration(cfg.Backend.RequestTimeout) * time.Second
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/"),
		apiToken: strings.TrimSpace(cfg.Backend.APIToken),
		timeout:  timeout,
		client:   doer,
	}
}

// UploadCard delivers a card capture as a multipart upload.
func (c *Client) UploadCard(ctx context.Context, item *queue.Item) (*UploadResult, error) {
	if item == nil || item.Kind != queue.KindCard {
		return nil, fmt.Errorf("upload card: item is not a card capture")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := map[string]string{
		"client_item_id": item.ID,
		"event_id":       item.EventID,
		"captured_at":    item.CapturedAt.UTC().Format(time.RFC3339),
	}
	if item.DeviceMeta != "" {
		fields["device_meta"] = item.DeviceMeta
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("upload card: write field %s: %w", name, err)
		}
	}

	part, err := writer.CreateFormFile("image", item.ID+".jpg")
	if err != nil {
		return nil, fmt.Errorf("upload card: create image part: %w", err)
	}
	if _, err := part.Write(item.ImageData); err != nil {
		return nil, fmt.Errorf("upload card: write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("upload card: finalize form: %w", err)
	}

	return c.send(ctx, "upload card", c.baseURL+"/api/events/"+item.EventID+"/cards", &body, writer.FormDataContentType(), item.ID)
}

// SubmitScan delivers a QR scan as a JSON payload.
func (c *Client) SubmitScan(ctx context.Context, item *queue.Item) (*UploadResult, error) {
	if item == nil || item.Kind != queue.KindQR {
		return nil, fmt.Errorf("submit scan: item is not a qr scan")
	}

	payload := struct {
		ClientItemID string `json:"client_item_id"`
		EventID      string `json:"event_id"`
		Token        string `json:"token"`
		CapturedAt   string `json:"captured_at"`
	}{
		ClientItemID: item.ID,
		EventID:      item.EventID,
		Token:        item.Token,
		CapturedAt:   item.CapturedAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("submit scan: encode payload: %w", err)
	}

	return c.send(ctx, "submit scan", c.baseURL+"/api/events/"+item.EventID+"/scans", bytes.NewReader(body), "application/json", item.ID)
}

// Deliver dispatches an item to the endpoint matching its kind.
func (c *Client) Deliver(ctx context.Context, item *queue.Item) (*UploadResult, error) {
	if item != nil && item.Kind == queue.KindQR {
		return c.SubmitScan(ctx, item)
	}
	return c.UploadCard(ctx, item)
}

func (c *Client) send(ctx context.Context, operation, url string, body io.Reader, contentType, idempotencyKey string) (*UploadResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &RequestError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       string(detail),
		}
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
		// A 2xx with an unreadable body still means the backend has the
		// record. Treat it as delivered rather than retrying into a duplicate.
		return &UploadResult{}, nil
	}
	return &result, nil
}
