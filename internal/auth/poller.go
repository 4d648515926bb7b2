// Package auth drives the browser-mediated device authorization handshake
// against the gitfolio server.
package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPollInterval  = 2000 * time.Millisecond
	defaultMaxAttempts   = 150
	defaultProgressEvery = 5
)

// SessionState represents the authorization session lifecycle.
type SessionState string

const (
	// StatePolling indicates the session is awaiting browser approval.
	StatePolling SessionState = "polling"
	// StateApproved indicates the operator approved the session.
	StateApproved SessionState = "approved"
	// StateExpired indicates the server expired the session.
	StateExpired SessionState = "expired"
	// StateTimedOut indicates the attempt ceiling was reached.
	StateTimedOut SessionState = "timed_out"
)

var (
	// ErrSessionExpired is returned when the server reports the session expired.
	ErrSessionExpired = errors.New("authorization session expired")
	// ErrPollTimeout is returned when the attempt ceiling is reached without
	// a terminal status.
	ErrPollTimeout = errors.New("authorization polling timed out")
)

// Credential is the verified outcome of an approved session.
type Credential struct {
	Token  string
	Handle string
}

// Session tracks one authorization session while it is being polled.
type Session struct {
	ID        string
	BaseURL   string
	PollCount int
	State     SessionState
}

type pollResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Handle string `json:"handle"`
}

// Config configures a Poller.
type Config struct {
	ServerURL          string
	PollInterval       time.Duration
	MaxAttempts        int
	ProgressEvery      int
	InsecureSkipVerify bool
	Verbose            bool
	Logger             *zap.Logger
	// Out receives operator-facing lines (approval URL, progress).
	Out io.Writer
	// HTTPClient overrides the default client; used by tests.
	HTTPClient *http.Client
	// Now and Sleep are injected for deterministic tests.
	Now   func() time.Time
	Sleep func(time.Duration)
	// NewSessionID overrides session id generation; used by tests.
	NewSessionID func() string
}

// Poller runs one authorization session to a terminal state.
type Poller struct {
	serverURL     string
	interval      time.Duration
	maxAttempts   int
	progressEvery int
	insecure      bool
	verbose       bool
	logger        *zap.Logger
	out           io.Writer
	httpClient    *http.Client
	now           func() time.Time
	sleep         func(time.Duration)
	newSessionID  func() string
}

// NewPoller creates a poller with defaults applied.
func NewPoller(cfg Config) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(cfg.InsecureSkipVerify)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}

	return &Poller{
		serverURL:     strings.TrimRight(cfg.ServerURL, "/"),
		interval:      cfg.PollInterval,
		maxAttempts:   cfg.MaxAttempts,
		progressEvery: cfg.ProgressEvery,
		insecure:      cfg.InsecureSkipVerify,
		verbose:       cfg.Verbose,
		logger:        cfg.Logger,
		out:           cfg.Out,
		httpClient:    cfg.HTTPClient,
		now:           cfg.Now,
		sleep:         cfg.Sleep,
		newSessionID:  cfg.NewSessionID,
	}
}

// newHTTPClient builds the poll transport. The skip-verify flag is threaded
// explicitly here rather than toggled process-wide.
func newHTTPClient(insecureSkipVerify bool) *http.Client {
	transport := http.DefaultTransport
	if insecureSkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // Explicit operator opt-in.
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   10 * time.Second,
	}
}

// ApprovalURL reports the URL the operator must open for a session.
func (p *Poller) ApprovalURL(sessionID string) string {
	return p.serverURL + "/authorize?session=" + url.QueryEscape(sessionID)
}

// Run creates a session and polls it to a terminal state. It returns the
// credential on approval, ErrSessionExpired or ErrPollTimeout otherwise.
// Per-poll transport failures never abort the session on their own.
func (p *Poller) Run(ctx context.Context) (Credential, error) {
	session := &Session{
		ID:      p.newSessionID(),
		BaseURL: p.serverURL,
		State:   StatePolling,
	}
	startedAt := p.now()

	fmt.Fprintf(p.out, "Open this URL in a browser logged into your gitfolio account:\n\n  %s\n\nWaiting for approval...\n", p.ApprovalURL(session.ID))
	p.logger.Debug("authorization session started",
		zap.String("session_id", session.ID),
		zap.Int("max_attempts", p.maxAttempts),
		zap.Duration("poll_interval", p.interval),
	)

	// Per-category rate limiting: the first failure of a kind is surfaced,
	// repeats stay at debug unless verbose diagnostics were requested.
	reported := make(map[string]bool)

	for session.State == StatePolling {
		session.PollCount++
		resp, err := p.pollOnce(ctx, session.ID)
		switch {
		case err != nil:
			p.reportPollFailure(reported, err)
		case resp.Status == "approved" && resp.Token != "" && resp.Handle != "":
			session.State = StateApproved
			p.logger.Debug("authorization approved",
				zap.String("session_id", session.ID),
				zap.String("handle", resp.Handle),
				zap.Int("attempts", session.PollCount),
				zap.Duration("elapsed", p.now().Sub(startedAt)),
			)
			return Credential{Token: resp.Token, Handle: resp.Handle}, nil
		case resp.Status == "expired":
			session.State = StateExpired
			return Credential{}, fmt.Errorf("%w after %d polls", ErrSessionExpired, session.PollCount)
		default:
			// "pending", an approved response missing its token or
			// handle, and unrecognized statuses all poll again.
		}

		if session.PollCount >= p.maxAttempts {
			session.State = StateTimedOut
			break
		}
		if session.PollCount%p.progressEvery == 0 {
			fmt.Fprintf(p.out, "Still waiting... (%s elapsed)\n", p.now().Sub(startedAt).Round(time.Second))
		}
		p.sleep(p.interval)
	}

	return Credential{}, fmt.Errorf("%w after %d attempts", ErrPollTimeout, p.maxAttempts)
}

func (p *Poller) pollOnce(ctx context.Context, sessionID string) (pollResponse, error) {
	endpoint := p.serverURL + "/auth/poll?session=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pollResponse{}, fmt.Errorf("new poll request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return pollResponse{}, fmt.Errorf("poll request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pollResponse{}, &statusError{code: resp.StatusCode}
	}

	var decoded pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		// Undecodable bodies count as a pending tick, not a failure:
		// the session may still be approved on a later poll.
		return pollResponse{Status: "pending"}, nil
	}
	return decoded, nil
}

// statusError is a non-2xx poll outcome.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("poll endpoint returned status %d", e.code)
}

func (p *Poller) reportPollFailure(reported map[string]bool, err error) {
	category := "network"
	message := "poll failed, retrying"

	var statusErr *statusError
	switch {
	case errors.As(err, &statusErr):
		category = fmt.Sprintf("http_%d", statusErr.code)
		message = "poll returned non-success status, retrying"
	case IsTLSError(err) && !p.insecure:
		category = "tls"
		message = "poll failed with a certificate trust error; if the server uses a self-signed certificate, retry with --insecure"
	}

	fields := []zap.Field{zap.String("category", category), zap.Error(err)}
	if p.verbose || !reported[category] {
		p.logger.Warn(message, fields...)
	} else {
		p.logger.Debug(message, fields...)
	}
	reported[category] = true
}
