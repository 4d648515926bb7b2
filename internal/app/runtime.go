// Package app orchestrates the gitfolio CLI operations: login, logout,
// merge, and status.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/gitfolio-dev/gitfolio-cli/internal/auth"
	"github.com/gitfolio-dev/gitfolio-cli/internal/config"
	"github.com/gitfolio-dev/gitfolio-cli/internal/credstore"
	"github.com/gitfolio-dev/gitfolio-cli/internal/githubapi"
	"github.com/gitfolio-dev/gitfolio-cli/internal/stats"
	"github.com/gitfolio-dev/gitfolio-cli/internal/telemetry"
	"github.com/gitfolio-dev/gitfolio-cli/internal/upload"
)

// ErrNotLoggedIn is returned by operations that require a saved credential.
var ErrNotLoggedIn = errors.New("not logged in; run `gitfolio login` first")

// fetcher is the contribution source consumed by Merge.
type fetcher interface {
	ValidateToken(ctx context.Context) (string, error)
	FetchContributions(ctx context.Context, handle string) (stats.RawContribution, error)
}

// uploader sends the normalized record to the profile server.
type uploader interface {
	Upload(ctx context.Context, request upload.MergeRequest, token string) error
}

// credentialStore persists the login credential.
type credentialStore interface {
	Load() (credstore.Record, bool)
	Save(record credstore.Record) error
	Delete() (bool, error)
}

// authRunner drives one authorization session.
type authRunner interface {
	Run(ctx context.Context) (auth.Credential, error)
}

// reporter posts the fire-and-forget merge report.
type reporter interface {
	SendAsync(report telemetry.MergeReport) <-chan struct{}
}

// Runtime wires the CLI operations to their collaborators.
type Runtime struct {
	cfg     *config.Config
	creds   credentialStore
	logger  *zap.Logger
	out     io.Writer
	version string

	reporter    reporter
	newPoller   func() authRunner
	newFetcher  func(token string) (fetcher, error)
	newUploader func() uploader

	// now and newOperationID are injected for deterministic tests.
	now            func() time.Time
	newOperationID func() string
}

// Options configures runtime construction.
type Options struct {
	Config  *config.Config
	Logger  *zap.Logger
	Out     io.Writer
	Version string
	Verbose bool
}

// NewRuntime creates a runtime with real collaborators.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	creds, err := credstore.New()
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	runtime := &Runtime{
		cfg:     cfg,
		creds:   creds,
		logger:  opts.Logger,
		out:     opts.Out,
		version: opts.Version,
		reporter: telemetry.NewReporter(telemetry.ReporterConfig{
			ServerURL:          cfg.ServerURL,
			Enabled:            cfg.Telemetry.Enabled,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Logger:             opts.Logger,
		}),
		now:            time.Now,
		newOperationID: uuid.NewString,
	}

	runtime.newPoller = func() authRunner {
		return auth.NewPoller(auth.Config{
			ServerURL:          cfg.ServerURL,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Verbose:            opts.Verbose,
			Logger:             opts.Logger,
			Out:                opts.Out,
		})
	}
	runtime.newFetcher = func(token string) (fetcher, error) {
		return githubapi.NewFetcher(githubapi.Config{
			Token:              token,
			Timeout:            cfg.HTTPTimeout,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Logger:             opts.Logger,
		})
	}
	runtime.newUploader = func() uploader {
		return upload.NewUploader(upload.Config{
			ServerURL:          cfg.ServerURL,
			Timeout:            cfg.HTTPTimeout,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Logger:             opts.Logger,
		})
	}

	return runtime, nil
}

// Login runs the authorization handshake and persists the credential.
func (r *Runtime) Login(ctx context.Context) error {
	credential, err := r.newPoller().Run(ctx)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	record := credstore.Record{
		Token:     credential.Token,
		Handle:    credential.Handle,
		ServerURL: r.cfg.ServerURL,
		SavedAt:   r.now().UTC(),
	}
	if err := r.creds.Save(record); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	fmt.Fprintf(r.out, "Logged in as %s\n", credential.Handle)
	return nil
}

// Logout deletes the saved credential.
func (r *Runtime) Logout() error {
	existed, err := r.creds.Delete()
	if err != nil {
		return err
	}
	if existed {
		fmt.Fprintln(r.out, "Logged out.")
	} else {
		fmt.Fprintln(r.out, "No saved credential.")
	}
	return nil
}

// Status prints the current login state.
func (r *Runtime) Status() error {
	record, ok := r.creds.Load()
	if !ok {
		fmt.Fprintln(r.out, "Not logged in.")
		return nil
	}
	fmt.Fprintf(r.out, "Logged in as %s (%s)\n", record.Handle, record.ServerURL)
	return nil
}

// MergeOptions configures one merge operation.
type MergeOptions struct {
	// Handle is the GitHub account to pull stats from. Empty means the
	// token's own viewer.
	Handle      string
	GitHubToken string
	JSON        bool
}

// Merge fetches, aggregates, and uploads contribution statistics for one
// GitHub handle, then reports telemetry in the background.
func (r *Runtime) Merge(ctx context.Context, opts MergeOptions) error {
	record, ok := r.creds.Load()
	if !ok {
		return ErrNotLoggedIn
	}
	if opts.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required for merge")
	}

	operationID := r.newOperationID()
	report := telemetry.MergeReport{
		OperationID:   operationID,
		TargetHandle:  record.Handle,
		SourceHandle:  opts.Handle,
		ClientVersion: r.version,
	}

	ctx, span := telemetry.StartSpan(ctx, "gitfolio.merge")
	defer span.End()

	err := r.merge(ctx, record, opts, &report)
	report.Success = err == nil
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	// Fire and forget: the merge outcome is final before the report is
	// guaranteed to be delivered.
	r.reporter.SendAsync(report)
	return err
}

func (r *Runtime) merge(ctx context.Context, record credstore.Record, opts MergeOptions, report *telemetry.MergeReport) error {
	contributionFetcher, err := r.newFetcher(opts.GitHubToken)
	if err != nil {
		report.ErrorCategory = "token"
		return err
	}

	viewer, err := contributionFetcher.ValidateToken(ctx)
	if err != nil {
		report.ErrorCategory = "token"
		return err
	}
	handle := opts.Handle
	if handle == "" {
		handle = viewer
	}
	report.SourceHandle = handle

	fetchCtx, fetchSpan := telemetry.StartSpan(ctx, "gitfolio.merge.fetch")
	fetchStart := r.now()
	raw, err := contributionFetcher.FetchContributions(fetchCtx, handle)
	report.FetchMillis = r.now().Sub(fetchStart).Milliseconds()
	fetchSpan.End()
	if err != nil {
		report.ErrorCategory = "fetch"
		return fmt.Errorf("fetch contributions for %s: %w", handle, err)
	}

	_, aggregateSpan := telemetry.StartSpan(ctx, "gitfolio.merge.aggregate")
	aggregateStart := r.now()
	data := stats.Aggregate(raw)
	report.AggregateMillis = r.now().Sub(aggregateStart).Milliseconds()
	aggregateSpan.End()

	report.CommitsTotal = data.CommitsTotal
	report.ActiveDays = data.ActiveDays
	report.PRsMergedCount = data.PRsMergedCount
	report.ReviewsCount = data.ReviewsSubmittedCount
	report.IssuesCount = data.IssuesClosedCount
	report.ReposContributed = data.ReposContributed

	uploadCtx, uploadSpan := telemetry.StartSpan(ctx, "gitfolio.merge.upload")
	uploadStart := r.now()
	err = r.newUploader().Upload(uploadCtx, upload.MergeRequest{
		TargetHandle: record.Handle,
		SourceHandle: data.Handle,
		Stats:        data,
	}, record.Token)
	report.UploadMillis = r.now().Sub(uploadStart).Milliseconds()
	uploadSpan.End()
	if err != nil {
		report.ErrorCategory = "upload"
		return fmt.Errorf("upload stats: %w", err)
	}

	r.logger.Debug("merge completed",
		zap.String("operation_id", report.OperationID),
		zap.String("target", record.Handle),
		zap.String("source", handle),
		zap.Int64("fetch_ms", report.FetchMillis),
		zap.Int64("upload_ms", report.UploadMillis),
	)
	return r.printMergeResult(record.Handle, data, opts.JSON)
}

func (r *Runtime) printMergeResult(target string, data stats.StatsData, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(r.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	}

	fmt.Fprintf(r.out, "Merged stats for %s into %s:\n", data.Handle, target)
	fmt.Fprintf(r.out, "  commits:        %d (%d active days)\n", data.CommitsTotal, data.ActiveDays)
	fmt.Fprintf(r.out, "  merged PRs:     %d (weight %.1f)\n", data.PRsMergedCount, data.PRsMergedWeight)
	fmt.Fprintf(r.out, "  reviews:        %d\n", data.ReviewsSubmittedCount)
	fmt.Fprintf(r.out, "  closed issues:  %d\n", data.IssuesClosedCount)
	fmt.Fprintf(r.out, "  lines:          +%d / -%d\n", data.LinesAdded, data.LinesDeleted)
	fmt.Fprintf(r.out, "  repositories:   %d (top share %.0f%%)\n", data.ReposContributed, data.TopRepoShare*100)
	fmt.Fprintf(r.out, "  stars/forks:    %d / %d\n", data.TotalStars, data.TotalForks)
	return nil
}
