// Package upload sends normalized statistics records to the gitfolio server.
package upload

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitfolio-dev/gitfolio-cli/internal/stats"
)

const (
	mergePath      = "/api/v1/profile/merge"
	defaultTimeout = 30 * time.Second
)

// MergeRequest is the upload payload for one merge operation.
type MergeRequest struct {
	TargetHandle string          `json:"target_handle"`
	SourceHandle string          `json:"source_handle"`
	Stats        stats.StatsData `json:"stats"`
}

// Error is a structured upload failure carrying the server's message when
// one was provided.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upload rejected with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upload rejected with status %d", e.StatusCode)
}

// Config configures an Uploader.
type Config struct {
	ServerURL          string
	Timeout            time.Duration
	InsecureSkipVerify bool
	Logger             *zap.Logger
	// HTTPClient overrides the default client; used by tests.
	HTTPClient *http.Client
}

// Uploader posts merge payloads. It never retries: retry policy belongs to
// the caller, and the merge operation treats a failed upload as terminal.
type Uploader struct {
	serverURL  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewUploader creates an uploader with defaults applied.
func NewUploader(cfg Config) *Uploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HTTPClient == nil {
		transport := http.DefaultTransport
		if cfg.InsecureSkipVerify {
			transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // Explicit operator opt-in.
			}
		}
		cfg.HTTPClient = &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		}
	}

	return &Uploader{
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Upload posts one merge request under the given bearer credential.
func (u *Uploader) Upload(ctx context.Context, request MergeRequest, token string) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal merge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.serverURL+mergePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new merge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("merge request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		u.logger.Debug("stats uploaded",
			zap.String("target", request.TargetHandle),
			zap.String("source", request.SourceHandle),
			zap.Int("status", resp.StatusCode),
		)
		return nil
	}

	uploadErr := &Error{StatusCode: resp.StatusCode}
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr == nil {
		var serverMessage struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &serverMessage) == nil && serverMessage.Error != "" {
			uploadErr.Message = serverMessage.Error
		}
	}
	return uploadErr
}
