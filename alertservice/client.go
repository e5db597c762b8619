// Package alertservice provides the HTTP client for the external alerting
// backend: warning lookup by RFID tag, bulk alert creation, and attaching a
// captured image to existing alerts.
package alertservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/LeDonChung/asset-management-iuh-sckt/errors"
	"github.com/LeDonChung/asset-management-iuh-sckt/metric"
)

// WarningsPath is the warning lookup endpoint on the alert backend. Exported
// so the control API can report the constructed URL.
const WarningsPath = "/api/v1/alerts/get-user-rfid-alerts"

const (
	bulkCreatePath  = "/api/v1/alerts/bulk"
	attachImagePath = "/api/v1/alerts/update-alerts-image"

	// DefaultTimeout bounds every outbound call; the broker never retries,
	// it logs and aborts the in-flight handler.
	DefaultTimeout = 15 * time.Second
)

// RFIDWarning is one warning entry returned for a scanned tag.
type RFIDWarning struct {
	RFID      string   `json:"rfid"`
	AllowMove bool     `json:"allowMove"`
	UserIDs   []string `json:"userIds"`
	AssetID   string   `json:"assetId"`
}

// AlertEntry is one alert to create in the backend.
type AlertEntry struct {
	AssetID  string `json:"assetId"`
	DeviceID string `json:"deviceId"`
	RoomID   string `json:"roomId"`
}

// Asset is the asset reference embedded in a created alert.
type Asset struct {
	RFID string `json:"rfid"`
}

// CreatedAlert is one alert record created by a bulk request.
type CreatedAlert struct {
	ID    string `json:"id"`
	Asset Asset  `json:"asset"`
}

// Config holds alert service client configuration.
type Config struct {
	BaseURL string `json:"base_url"`
	Timeout int    `json:"timeout"` // seconds, 0 means DefaultTimeout
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid base_url format")
	}
	if c.Timeout < 0 || c.Timeout > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 300 seconds")
	}
	return nil
}

// Client calls the alert backend over HTTP with a bounded per-request timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// NewClient creates an alert service client. logger and metrics may be nil.
func NewClient(cfg Config, logger *slog.Logger, metrics *metric.Metrics) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "alertservice"),
		metrics:    metrics,
	}, nil
}

// FetchWarnings looks up warning state for the given RFID tags.
func (c *Client) FetchWarnings(ctx context.Context, tags []string) ([]RFIDWarning, error) {
	var warnings []RFIDWarning
	err := c.postJSON(ctx, "fetch_warnings", WarningsPath, tags, &warnings)
	if err != nil {
		return nil, err
	}
	return warnings, nil
}

// BulkCreateAlerts creates alert records for the given entries.
func (c *Client) BulkCreateAlerts(ctx context.Context, entries []AlertEntry) ([]CreatedAlert, error) {
	var created []CreatedAlert
	err := c.postJSON(ctx, "bulk_create", bulkCreatePath, entries, &created)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AttachImage uploads a captured JPEG and associates it with the given alert
// IDs via a multipart form: a "File" part with the image and an "alertIds"
// field carrying a JSON array.
func (c *Client) AttachImage(ctx context.Context, image []byte, alertIDs []string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="File"; filename="capture.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "AttachImage", "create form file")
	}
	if _, err := part.Write(image); err != nil {
		return errors.WrapInvalid(err, "Client", "AttachImage", "write image data")
	}

	ids, err := json.Marshal(alertIDs)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "AttachImage", "marshal alert ids")
	}
	if err := writer.WriteField("alertIds", string(ids)); err != nil {
		return errors.WrapInvalid(err, "Client", "AttachImage", "write alertIds field")
	}
	if err := writer.Close(); err != nil {
		return errors.WrapInvalid(err, "Client", "AttachImage", "finalize form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+attachImagePath, &body)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "AttachImage", "build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	if err := c.do("attach_image", req, nil); err != nil {
		return err
	}
	return nil
}

// postJSON sends a JSON body and decodes a JSON response into out.
func (c *Client) postJSON(ctx context.Context, operation, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "postJSON", "marshal request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return errors.WrapInvalid(err, "Client", "postJSON", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(operation, req, out)
}

// do executes a request, checks the status code and decodes the response.
func (c *Client) do(operation string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(operation, "error")
		return errors.WrapTransient(err, "Client", operation, "execute request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read and discard body to reuse connection
		_, _ = io.Copy(io.Discard, resp.Body)
		c.record(operation, fmt.Sprintf("http_%d", resp.StatusCode))
		return errors.WrapTransient(
			fmt.Errorf("%w: HTTP %d", errors.ErrUnexpectedStatus, resp.StatusCode),
			"Client", operation, "check response status")
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.record(operation, "decode_error")
			return errors.WrapInvalid(err, "Client", operation, "decode response body")
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	c.record(operation, "ok")
	return nil
}

func (c *Client) record(operation, status string) {
	if c.metrics != nil {
		c.metrics.RecordAlertRequest(operation, status)
	}
}
