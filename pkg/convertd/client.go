// Package convertd provides an HTTP client for the convertd document
// conversion service.
//
// convertd converts CAD and office documents into viewer-ready formats
// and extracts their embedded properties (author, units, bounding box,
// part metadata). The service takes a multipart file upload and returns
// either the converted payload or a structured error.
package convertd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/meridian-dms/meridian-core/internal/config"
	"github.com/meridian-dms/meridian-core/pkg/logger"
)

// Module provides the convertd client as an fx module
var Module = fx.Module("convertd",
	fx.Provide(NewClient),
)

// Client is an HTTP client for the convertd conversion service
type Client struct {
	httpClient   *http.Client
	baseURL      string
	timeout      time.Duration
	maxFileBytes int64
	enabled      bool
	log          *slog.Logger
}

// NewClient creates a new convertd client
func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Convertd.Timeout(),
		},
		baseURL:      strings.TrimRight(cfg.Convertd.ServiceURL, "/"),
		timeout:      cfg.Convertd.Timeout(),
		maxFileBytes: int64(cfg.Convertd.MaxFileSizeMB) * 1024 * 1024,
		enabled:      cfg.Convertd.Enabled,
		log:          log.With(logger.Scope("convertd")),
	}
}

// IsEnabled returns true if the convertd service is enabled
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// HealthResponse is the health check response from convertd
type HealthResponse struct {
	Status  string         `json:"status"` // "healthy" or "unhealthy"
	Version string         `json:"version,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Error represents a convertd service error
type Error struct {
	// Message is the human-friendly error message
	Message string
	// Detail is the technical error detail
	Detail string
	// StatusCode is the HTTP status code
	StatusCode int
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// humanFriendlyMessages maps technical errors to user-friendly messages
var humanFriendlyMessages = map[string]string{
	"Unsupported file format": "This file format is not supported for conversion.",
	"Invalid file":            "This file appears to be corrupted or in an unrecognized format.",
	"Empty geometry":          "No renderable geometry could be extracted from this file.",
	"File too large":          "This file exceeds the maximum size limit for processing.",
	"Processing timeout":      "The file took too long to convert.",
	"Password protected":      "This file is password protected and cannot be converted.",
}

func humanFriendlyMessage(technical, detail string) string {
	for pattern, friendly := range humanFriendlyMessages {
		if strings.Contains(technical, pattern) || strings.Contains(detail, pattern) {
			return friendly
		}
	}
	if detail != "" {
		return fmt.Sprintf("%s (%s)", technical, detail)
	}
	return technical
}

// Convert uploads the file at path and returns the converted payload.
// An empty response body is reported as an error rather than returned.
func (c *Client) Convert(ctx context.Context, path string) ([]byte, error) {
	return c.post(ctx, "/convert", path)
}

// ExtractProperties uploads the file at path and returns the extracted
// properties document (JSON).
func (c *Client) ExtractProperties(ctx context.Context, path string) ([]byte, error) {
	return c.post(ctx, "/properties", path)
}

func (c *Client) post(ctx context.Context, endpoint, path string) ([]byte, error) {
	if !c.enabled {
		return nil, &Error{
			Message:    "convertd document conversion is not enabled",
			StatusCode: http.StatusServiceUnavailable,
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	if c.maxFileBytes > 0 && info.Size() > c.maxFileBytes {
		return nil, &Error{
			Message:    "File too large",
			Detail:     fmt.Sprintf("%d bytes exceeds the %d byte limit", info.Size(), c.maxFileBytes),
			StatusCode: http.StatusRequestEntityTooLarge,
		}
	}

	filename := filepath.Base(path)
	startTime := time.Now()
	c.log.Debug("sending file to convertd",
		slog.String("endpoint", endpoint),
		slog.String("filename", filename),
		slog.Int64("size_bytes", info.Size()),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Stream the file through a pipe so large uploads never buffer
	// fully in memory.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("create form file: %w", err))
			return
		}
		f, err := os.Open(path)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("open source file: %w", err))
			return
		}
		defer f.Close()
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(fmt.Errorf("write file content: %w", err))
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, pr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{
				Message:    fmt.Sprintf("convertd request timed out for %s", filename),
				StatusCode: http.StatusRequestTimeout,
			}
		}
		return nil, &Error{
			Message:    fmt.Sprintf("convertd service unavailable at %s", c.baseURL),
			Detail:     err.Error(),
			StatusCode: http.StatusServiceUnavailable,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp.StatusCode, body, filename)
	}

	if len(body) == 0 {
		return nil, &Error{
			Message:    fmt.Sprintf("convertd returned an empty payload for %s", filename),
			StatusCode: http.StatusBadGateway,
		}
	}

	c.log.Info("convertd call completed",
		slog.String("endpoint", endpoint),
		slog.String("filename", filename),
		slog.Int("payload_bytes", len(body)),
		slog.Duration("duration", time.Since(startTime)),
	)

	return body, nil
}

// handleErrorResponse converts HTTP error responses to Error
func (c *Client) handleErrorResponse(statusCode int, body []byte, filename string) *Error {
	var errResp struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}

	var message, detail string
	if err := json.Unmarshal(body, &errResp); err == nil {
		message = errResp.Error
		if message == "" {
			message = errResp.Message
		}
		detail = errResp.Detail
	} else {
		message = string(body)
	}
	if message == "" {
		message = fmt.Sprintf("convertd error for %s", filename)
	}

	c.log.Warn("convertd error",
		slog.String("filename", filename),
		slog.Int("status_code", statusCode),
		slog.String("message", message),
		slog.String("detail", detail),
	)

	return &Error{
		Message:    humanFriendlyMessage(message, detail),
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// Health checks the health status of the convertd service
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("convertd health check failed", logger.Error(err))
		return &HealthResponse{
			Status:  "unhealthy",
			Details: map[string]any{"error": err.Error()},
		}, nil
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return &HealthResponse{
			Status:  "unhealthy",
			Details: map[string]any{"error": "failed to decode health response"},
		}, nil
	}

	return &health, nil
}
