package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gitfolio-dev/gitfolio-cli/internal/auth"
	"github.com/gitfolio-dev/gitfolio-cli/internal/config"
	"github.com/gitfolio-dev/gitfolio-cli/internal/credstore"
	"github.com/gitfolio-dev/gitfolio-cli/internal/stats"
	"github.com/gitfolio-dev/gitfolio-cli/internal/telemetry"
	"github.com/gitfolio-dev/gitfolio-cli/internal/upload"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	viewer      string
	validateErr error
	raw         stats.RawContribution
	fetchErr    error
	fetchedFor  string
}

func (f *fakeFetcher) ValidateToken(context.Context) (string, error) {
	return f.viewer, f.validateErr
}

func (f *fakeFetcher) FetchContributions(_ context.Context, handle string) (stats.RawContribution, error) {
	f.fetchedFor = handle
	if f.fetchErr != nil {
		return stats.RawContribution{}, f.fetchErr
	}
	return f.raw, nil
}

type fakeUploader struct {
	got       upload.MergeRequest
	gotToken  string
	uploadErr error
	calls     int
}

func (u *fakeUploader) Upload(_ context.Context, request upload.MergeRequest, token string) error {
	u.calls++
	u.got = request
	u.gotToken = token
	return u.uploadErr
}

type fakePoller struct {
	credential auth.Credential
	err        error
}

func (p *fakePoller) Run(context.Context) (auth.Credential, error) {
	return p.credential, p.err
}

type fakeReporter struct {
	reports []telemetry.MergeReport
}

func (r *fakeReporter) SendAsync(report telemetry.MergeReport) <-chan struct{} {
	r.reports = append(r.reports, report)
	done := make(chan struct{})
	close(done)
	return done
}

type testRuntime struct {
	runtime  *Runtime
	out      *bytes.Buffer
	creds    *credstore.Store
	fetcher  *fakeFetcher
	uploader *fakeUploader
	poller   *fakePoller
	reporter *fakeReporter
}

func newTestRuntime(t *testing.T) *testRuntime {
	t.Helper()

	cfg := &config.Config{ServerURL: "https://gitfolio.test", LogLevel: "info", HTTPTimeout: time.Second}
	out := &bytes.Buffer{}
	creds := credstore.NewAt(filepath.Join(t.TempDir(), "credentials.json"))
	fetcherFake := &fakeFetcher{
		viewer: "octocat",
		raw: stats.RawContribution{
			Login:         "octocat",
			CalendarTotal: 420,
			Weeks: []stats.CalendarWeek{
				{Days: []stats.ContributionDay{{Date: "2026-01-05", Count: 3}}},
			},
			Repositories: []stats.RepositoryActivity{{Name: "widgets", Commits: 60}},
		},
	}
	uploaderFake := &fakeUploader{}
	pollerFake := &fakePoller{credential: auth.Credential{Token: "tok-123", Handle: "profile-user"}}
	reporterFake := &fakeReporter{}

	runtime := &Runtime{
		cfg:            cfg,
		creds:          creds,
		logger:         zap.NewNop(),
		out:            out,
		version:        "test",
		reporter:       reporterFake,
		newPoller:      func() authRunner { return pollerFake },
		newFetcher:     func(string) (fetcher, error) { return fetcherFake, nil },
		newUploader:    func() uploader { return uploaderFake },
		now:            time.Now,
		newOperationID: func() string { return "op-1" },
	}

	return &testRuntime{
		runtime:  runtime,
		out:      out,
		creds:    creds,
		fetcher:  fetcherFake,
		uploader: uploaderFake,
		poller:   pollerFake,
		reporter: reporterFake,
	}
}

func loggedIn(t *testing.T, tr *testRuntime) {
	t.Helper()
	if err := tr.creds.Save(credstore.Record{
		Token:     "tok-123",
		Handle:    "profile-user",
		ServerURL: "https://gitfolio.test",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestLoginSavesCredential(t *testing.T) {
	t.Parallel()

	tr := newTestRuntime(t)
	if err := tr.runtime.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	record, ok := tr.creds.Load()
	if !ok {
		t.Fatal("no credential saved after login")
	}
	if record.Token != "tok-123" || record.Handle != "profile-user" {
		t.Fatalf("saved record = %+v", record)
	}
	if record.ServerURL != "https://gitfolio.test" {
		t.Fatalf("saved server url = %q", record.ServerURL)
	}
	if !strings.Contains(tr.out.String(), "Logged in as profile-user") {
		t.Fatalf("output = %q", tr.out.String())
	}
}

func TestLoginFailureSavesNothing(t *testing.T) {
	t.Parallel()

	tr := newTestRuntime(t)
	tr.poller.err = auth.ErrPollTimeout

	err := tr.runtime.Login(context.Background())
	if !errors.Is(err, auth.ErrPollTimeout) {
		t.Fatalf("Login() error = %v, want poll timeout", err)
	}
	if _, ok := tr.creds.Load(); ok {
		t.Fatal("credential saved despite failed login")
	}
}

func TestMergeHappyPath(t *testing.T) {
	t.Parallel()

	tr := newTestRuntime(t)
	loggedIn(t, tr)

	err := tr.runtime.Merge(context.Background(), MergeOptions{Handle: "octocat", GitHubToken: "gh-token"})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if tr.uploader.calls != 1 {
		t.Fatalf("upload calls = %d, want 1", tr.uploader.calls)
	}
	if tr.uploader.gotToken != "tok-123" {
		t.Errorf("upload token = %q, want the saved credential", tr.uploader.gotToken)
	}
	if tr.uploader.got.TargetHandle != "profile-user" || tr.uploader.got.SourceHandle != "octocat" {
		t.Errorf("upload identities = %s/%s", tr.uploader.got.TargetHandle, tr.uploader.got.SourceHandle)
	}
	if tr.uploader.got.Stats.CommitsTotal != 420 {
		t.Errorf("uploaded CommitsTotal = %d, want 420", tr.uploader.got.Stats.CommitsTotal)
	}

	if len(tr.reporter.reports) != 1 {
		t.Fatalf("telemetry reports = %d, want 1", len(tr.reporter.reports))
	}
	report := tr.reporter.reports[0]
	if !report.Success || report.ErrorCategory != "" {
		t.Errorf("report = %+v, want success", report)
	}
	if report.CommitsTotal != 420 || report.ReposContributed != 1 {
		t.Errorf("report counters = %+v", report)
	}
	if report.OperationID != "op-1" {
		t.Errorf("operation id = %q", report.OperationID)
	}

	if !strings.Contains(tr.out.String(), "Merged stats for octocat into profile-user") {
		t.Fatalf("output = %q", tr.out.String())
	}
}

func TestMergeDefaultsToViewerHandle(t *testing.T) {
	t.Parallel()

	tr := newTestRuntime(t)
	loggedIn(t, tr)

	if err := tr.runtime.Merge(context.Background(), MergeOptions{GitHubToken: "gh-token"}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if tr.fetcher.fetchedFor != "octocat" {
		t.Fatalf("fetched handle = %q, want the token's viewer", tr.fetcher.fetchedFor)
	}
}

func TestMergeRequiresLogin(t *testing.T) {
	t.Parallel()

	tr := newTestRuntime(t)

	err := tr.runtime.Merge(context.Background(), MergeOptions{Handle: "octocat", GitHubToken: "gh-token"})
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Merge() error = %v, want ErrNotLoggedIn", err)
	}
	if tr.fetcher.fetchedFor != "" {
		t.Fatal("fetch performed without a credential")
	}
}

func TestMergeRequiresGitHubToken(t *testing.T) {
	t.Parallel()

	tr := newTestRuntime(t)
	loggedIn(t, tr)

	if err := tr.runtime.Merge(context.Background(), MergeOptions{Handle: "octocat"}); err == nil {
		t.Fatal("Merge() error = nil, want missing-token failure")
	}
}

func TestMergeFailureCategories(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		prepare      func(tr *testRuntime)
		wantCategory string
		wantUploads  int
	}{
		{
			name: "token_rejected",
			prepare: func(tr *testRuntime) {
				tr.fetcher.validateErr = errors.New("bad credentials")
			},
			wantCategory: "token",
			wantUploads:  0,
		},
		{
			name: "fetch_no_data",
			prepare: func(tr *testRuntime) {
				tr.fetcher.fetchErr = errors.New("graphql errors: rate limited")
			},
			wantCategory: "fetch",
			wantUploads:  0,
		},
		{
			name: "upload_rejected",
			prepare: func(tr *testRuntime) {
				tr.uploader.uploadErr = &upload.Error{StatusCode: 409, Message: "profile is locked"}
			},
			wantCategory: "upload",
			wantUploads:  1,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			tr := newTestRuntime(t)
			loggedIn(t, tr)
			testCase.prepare(tr)

			err := tr.runtime.Merge(context.Background(), MergeOptions{Handle: "octocat", GitHubToken: "gh-token"})
			if err == nil {
				t.Fatal("Merge() error = nil, want failure")
			}
			if tr.uploader.calls != testCase.wantUploads {
				t.Errorf("upload calls = %d, want %d", tr.uploader.calls, testCase.wantUploads)
			}
			if len(tr.reporter.reports) != 1 {
				t.Fatalf("telemetry reports = %d, want 1", len(tr.reporter.reports))
			}
			report := tr.reporter.reports[0]
			if report.Success {
				t.Error("report.Success = true, want false")
			}
			if report.ErrorCategory != testCase.wantCategory {
				t.Errorf("ErrorCategory = %q, want %q", report.ErrorCategory, testCase.wantCategory)
			}
		})
	}
}

func TestMergeJSONOutput(t *testing.T) {
	t.Parallel()

	tr := newTestRuntime(t)
	loggedIn(t, tr)

	if err := tr.runtime.Merge(context.Background(), MergeOptions{Handle: "octocat", GitHubToken: "gh-token", JSON: true}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !strings.Contains(tr.out.String(), `"commits_total": 420`) {
		t.Fatalf("output = %q, want JSON stats", tr.out.String())
	}
}

func TestStatusAndLogout(t *testing.T) {
	t.Parallel()

	tr := newTestRuntime(t)

	if err := tr.runtime.Status(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.out.String(), "Not logged in") {
		t.Fatalf("output = %q", tr.out.String())
	}

	loggedIn(t, tr)
	tr.out.Reset()
	if err := tr.runtime.Status(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.out.String(), "profile-user") {
		t.Fatalf("output = %q", tr.out.String())
	}

	tr.out.Reset()
	if err := tr.runtime.Logout(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.out.String(), "Logged out") {
		t.Fatalf("output = %q", tr.out.String())
	}

	tr.out.Reset()
	if err := tr.runtime.Logout(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.out.String(), "No saved credential") {
		t.Fatalf("output = %q", tr.out.String())
	}
}
