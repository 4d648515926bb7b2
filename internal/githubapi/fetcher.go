// Package githubapi fetches contribution statistics from the GitHub
// GraphQL API and validates access tokens against the REST API.
package githubapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"
	"go.uber.org/zap"

	"github.com/gitfolio-dev/gitfolio-cli/internal/stats"
)

const (
	defaultGraphQLURL = "https://api.github.com/graphql"
	defaultTimeout    = 30 * time.Second
	// fetchWindowDays is the fixed historical window every fetch covers.
	fetchWindowDays = 365
)

// Config configures a Fetcher.
type Config struct {
	Token              string
	GraphQLURL         string
	RESTBaseURL        string
	Timeout            time.Duration
	InsecureSkipVerify bool
	Logger             *zap.Logger
	// Now is injected for deterministic window computation in tests.
	Now func() time.Time
}

// Fetcher issues the contribution query for one GitHub handle.
type Fetcher struct {
	token      string
	graphqlURL string
	httpClient *http.Client
	rest       *github.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewFetcher creates a fetcher with defaults applied.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if cfg.GraphQLURL == "" {
		cfg.GraphQLURL = defaultGraphQLURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // Explicit operator opt-in.
		}
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	rest, err := newRESTClient(httpClient, cfg.Token, cfg.RESTBaseURL)
	if err != nil {
		return nil, err
	}

	return &Fetcher{
		token:      cfg.Token,
		graphqlURL: cfg.GraphQLURL,
		httpClient: httpClient,
		rest:       rest,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// newRESTClient creates a token-authenticated go-github client with an
// optional API base URL override for tests.
func newRESTClient(httpClient *http.Client, token, baseURL string) (*github.Client, error) {
	client := github.NewClient(httpClient).WithAuthToken(token)
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return client, nil
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	client.BaseURL = parsed
	return client, nil
}

// ValidateToken resolves the authenticated viewer, confirming the token is
// usable before any stats fetch.
func (f *Fetcher) ValidateToken(ctx context.Context) (string, error) {
	user, _, err := f.rest.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("validate github token: %w", err)
	}
	login := user.GetLogin()
	if login == "" {
		return "", fmt.Errorf("validate github token: empty viewer login")
	}
	f.logger.Debug("github token validated", zap.String("viewer", login))
	return login, nil
}

const contributionsQuery = `query($login: String!, $from: DateTime!, $to: DateTime!) {
  user(login: $login) {
    login
    name
    avatarUrl
    contributionsCollection(from: $from, to: $to) {
      contributionCalendar {
        totalContributions
        weeks {
          contributionDays {
            date
            contributionCount
          }
        }
      }
      totalPullRequestReviewContributions
      commitContributionsByRepository(maxRepositories: 100) {
        repository { name }
        contributions { totalCount }
      }
    }
    pullRequests(first: 100, orderBy: {field: CREATED_AT, direction: DESC}) {
      totalCount
      nodes {
        additions
        deletions
        changedFiles
        merged
      }
    }
    issues(states: CLOSED) { totalCount }
    repositories(first: 100, ownerAffiliations: OWNER, orderBy: {field: STARGAZERS, direction: DESC}) {
      nodes {
        stargazerCount
        forkCount
        watchers { totalCount }
      }
    }
  }
}`

type graphqlResponse struct {
	Data struct {
		User *struct {
			Login                   string `json:"login"`
			Name                    string `json:"name"`
			AvatarURL               string `json:"avatarUrl"`
			ContributionsCollection struct {
				ContributionCalendar struct {
					TotalContributions int `json:"totalContributions"`
					Weeks              []struct {
						ContributionDays []struct {
							Date              string `json:"date"`
							ContributionCount int    `json:"contributionCount"`
						} `json:"contributionDays"`
					} `json:"weeks"`
				} `json:"contributionCalendar"`
				TotalPullRequestReviewContributions int `json:"totalPullRequestReviewContributions"`
				CommitContributionsByRepository     []struct {
					Repository struct {
						Name string `json:"name"`
					} `json:"repository"`
					Contributions struct {
						TotalCount int `json:"totalCount"`
					} `json:"contributions"`
				} `json:"commitContributionsByRepository"`
			} `json:"contributionsCollection"`
			PullRequests struct {
				TotalCount int `json:"totalCount"`
				Nodes      []struct {
					Additions    int  `json:"additions"`
					Deletions    int  `json:"deletions"`
					ChangedFiles int  `json:"changedFiles"`
					Merged       bool `json:"merged"`
				} `json:"nodes"`
			} `json:"pullRequests"`
			Issues struct {
				TotalCount int `json:"totalCount"`
			} `json:"issues"`
			Repositories struct {
				Nodes []struct {
					StargazerCount int `json:"stargazerCount"`
					ForkCount      int `json:"forkCount"`
					Watchers       struct {
						TotalCount int `json:"totalCount"`
					} `json:"watchers"`
				} `json:"nodes"`
			} `json:"repositories"`
		} `json:"user"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchContributions issues the contribution query for a handle over the
// fixed historical window ending now. Any transport, HTTP, GraphQL, or
// decode failure surfaces as an error; a partial payload is never returned.
func (f *Fetcher) FetchContributions(ctx context.Context, handle string) (stats.RawContribution, error) {
	to := f.now().UTC()
	from := to.AddDate(0, 0, -fetchWindowDays)

	payload := map[string]any{
		"query": contributionsQuery,
		"variables": map[string]any{
			"login": handle,
			"from":  from.Format(time.RFC3339),
			"to":    to.Format(time.RFC3339),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return stats.RawContribution{}, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return stats.RawContribution{}, fmt.Errorf("new graphql request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")

	start := f.now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return stats.RawContribution{}, fmt.Errorf("graphql request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return stats.RawContribution{}, fmt.Errorf("read graphql response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stats.RawContribution{}, fmt.Errorf("graphql request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded graphqlResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return stats.RawContribution{}, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return stats.RawContribution{}, fmt.Errorf("graphql errors: %s", decoded.Errors[0].Message)
	}
	if decoded.Data.User == nil {
		return stats.RawContribution{}, fmt.Errorf("github user %q not found", handle)
	}

	f.logger.Debug("contributions fetched",
		zap.String("handle", handle),
		zap.Duration("elapsed", f.now().Sub(start)),
	)
	return toRawContribution(decoded), nil
}

func toRawContribution(decoded graphqlResponse) stats.RawContribution {
	user := decoded.Data.User
	collection := user.ContributionsCollection

	raw := stats.RawContribution{
		Login:             user.Login,
		Name:              user.Name,
		AvatarURL:         user.AvatarURL,
		CalendarTotal:     collection.ContributionCalendar.TotalContributions,
		PullRequestsTotal: user.PullRequests.TotalCount,
		Reviews:           collection.TotalPullRequestReviewContributions,
		IssuesClosed:      user.Issues.TotalCount,
	}

	for _, week := range collection.ContributionCalendar.Weeks {
		days := make([]stats.ContributionDay, 0, len(week.ContributionDays))
		for _, day := range week.ContributionDays {
			days = append(days, stats.ContributionDay{Date: day.Date, Count: day.ContributionCount})
		}
		raw.Weeks = append(raw.Weeks, stats.CalendarWeek{Days: days})
	}

	for _, node := range user.PullRequests.Nodes {
		raw.PullRequests = append(raw.PullRequests, stats.PullRequest{
			Additions:    node.Additions,
			Deletions:    node.Deletions,
			ChangedFiles: node.ChangedFiles,
			Merged:       node.Merged,
		})
	}

	for _, entry := range collection.CommitContributionsByRepository {
		raw.Repositories = append(raw.Repositories, stats.RepositoryActivity{
			Name:    entry.Repository.Name,
			Commits: entry.Contributions.TotalCount,
		})
	}

	for _, node := range user.Repositories.Nodes {
		raw.OwnedRepos = append(raw.OwnedRepos, stats.OwnedRepo{
			Stars:    node.StargazerCount,
			Forks:    node.ForkCount,
			Watchers: node.Watchers.TotalCount,
		})
	}

	return raw
}
