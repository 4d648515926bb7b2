package telemetry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	reportPath = "/api/v1/telemetry"
	// reportTimeout keeps the fire-and-forget report from outliving the
	// operation it describes by more than a moment.
	reportTimeout = 3 * time.Second
)

// MergeReport is the fixed-shape summary sent after each merge operation.
type MergeReport struct {
	OperationID   string `json:"operation_id"`
	TargetHandle  string `json:"target_handle"`
	SourceHandle  string `json:"source_handle"`
	Success       bool   `json:"success"`
	ErrorCategory string `json:"error_category,omitempty"`

	CommitsTotal     int `json:"commits_total"`
	ActiveDays       int `json:"active_days"`
	PRsMergedCount   int `json:"prs_merged_count"`
	ReviewsCount     int `json:"reviews_count"`
	IssuesCount      int `json:"issues_count"`
	ReposContributed int `json:"repos_contributed"`

	FetchMillis     int64 `json:"fetch_ms"`
	AggregateMillis int64 `json:"aggregate_ms"`
	UploadMillis    int64 `json:"upload_ms"`

	ClientVersion string `json:"client_version"`
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	ServerURL          string
	Enabled            bool
	InsecureSkipVerify bool
	Logger             *zap.Logger
	// HTTPClient overrides the default client; used by tests.
	HTTPClient *http.Client
}

// Reporter posts merge reports. Every failure is swallowed: telemetry must
// never change the outcome of the operation it observes.
type Reporter struct {
	serverURL  string
	enabled    bool
	httpClient *http.Client
	logger     *zap.Logger
}

// NewReporter creates a reporter with defaults applied.
func NewReporter(cfg ReporterConfig) *Reporter {
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
			Timeout:   reportTimeout,
		}
	}

	return &Reporter{
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		enabled:    cfg.Enabled,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Send posts one report synchronously. The returned channel from SendAsync
// wraps this; tests call it directly.
func (r *Reporter) Send(ctx context.Context, report MergeReport) {
	if !r.enabled {
		return
	}

	body, err := json.Marshal(report)
	if err != nil {
		r.logger.Debug("telemetry report dropped", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+reportPath, bytes.NewReader(body))
	if err != nil {
		r.logger.Debug("telemetry report dropped", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Debug("telemetry report dropped", zap.Error(err))
		return
	}
	_ = resp.Body.Close()
	r.logger.Debug("telemetry report sent",
		zap.String("operation_id", report.OperationID),
		zap.Int("status", resp.StatusCode),
	)
}

// SendAsync posts one report on a detached goroutine and returns a channel
// that closes when the attempt finishes. Callers are free to ignore it; the
// merge result never waits on telemetry.
func (r *Reporter) SendAsync(report MergeReport) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Send(context.Background(), report)
	}()
	return done
}
