// Package stats normalizes raw GitHub contribution payloads into the
// profile statistics record uploaded to the gitfolio server.
package stats

import (
	"math"
	"time"
)

const (
	prWeightBase     = 0.5
	prWeightLogScale = 0.25
	// maxPRWeight bounds any single pull request's contribution to the
	// aggregate weight.
	maxPRWeight = 3.0
	// maxTotalPRWeight bounds the aggregate weight fed into downstream
	// badge scoring.
	maxTotalPRWeight = 120.0
	// burstReportThreshold suppresses the daily-spike metric below this
	// count: smaller maxima are indistinguishable from normal heavy days.
	burstReportThreshold = 30
)

// ContributionDay is one calendar day of contribution activity.
type ContributionDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// CalendarWeek is one week of the contribution calendar, days in input order.
type CalendarWeek struct {
	Days []ContributionDay
}

// PullRequest is one pull request summary from the raw payload.
type PullRequest struct {
	Additions    int
	Deletions    int
	ChangedFiles int
	Merged       bool
}

// RepositoryActivity is one repository with the commit count attributed to
// it inside the fetch window. A missing count arrives as zero.
type RepositoryActivity struct {
	Name    string
	Commits int
}

// OwnedRepo carries the social counters of one repository the user owns.
type OwnedRepo struct {
	Stars    int
	Forks    int
	Watchers int
}

// RawContribution is the raw per-user payload produced by the fetcher.
// It is consumed exactly once by Aggregate.
type RawContribution struct {
	Login             string
	Name              string
	AvatarURL         string
	CalendarTotal     int
	Weeks             []CalendarWeek
	PullRequestsTotal int
	PullRequests      []PullRequest
	Reviews           int
	IssuesClosed      int
	Repositories      []RepositoryActivity
	OwnedRepos        []OwnedRepo
}

// StatsData is the normalized statistics record for one merge operation.
// It is never mutated after Aggregate returns it.
type StatsData struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`

	CommitsTotal          int     `json:"commits_total"`
	ActiveDays            int     `json:"active_days"`
	PRsMergedCount        int     `json:"prs_merged_count"`
	PRsMergedWeight       float64 `json:"prs_merged_weight"`
	ReviewsSubmittedCount int     `json:"reviews_submitted_count"`
	IssuesClosedCount     int     `json:"issues_closed_count"`
	LinesAdded            int     `json:"lines_added"`
	LinesDeleted          int     `json:"lines_deleted"`

	ReposContributed int     `json:"repos_contributed"`
	TopRepoShare     float64 `json:"top_repo_share"`
	// MaxCommitsIn10Min is an approximation derived from daily totals; the
	// calendar has no sub-day granularity, so the largest single-day count
	// stands in for a burst, and anything under burstReportThreshold is
	// reported as zero.
	MaxCommitsIn10Min int `json:"max_commits_in_10min"`

	TotalStars    int `json:"total_stars"`
	TotalForks    int `json:"total_forks"`
	TotalWatchers int `json:"total_watchers"`

	HeatmapData []ContributionDay `json:"heatmap_data"`
	FetchedAt   string            `json:"fetched_at"`
}

// PRWeight scores one merged pull request. The base term keeps every merged
// PR worth something; the log terms reward files touched and lines changed
// with diminishing returns so outliers do not dominate.
func PRWeight(pr PullRequest) float64 {
	w := prWeightBase +
		prWeightLogScale*math.Log(1+float64(pr.ChangedFiles)) +
		prWeightLogScale*math.Log(1+float64(pr.Additions+pr.Deletions))
	return math.Min(w, maxPRWeight)
}

// Aggregate converts a raw contribution payload into a StatsData record.
// It is total: absent sub-fields degrade to zeros and empty slices, never
// an error.
func Aggregate(raw RawContribution) StatsData {
	heatmap := make([]ContributionDay, 0, len(raw.Weeks)*7)
	for _, week := range raw.Weeks {
		heatmap = append(heatmap, week.Days...)
	}

	activeDays := 0
	maxDay := 0
	for _, day := range heatmap {
		if day.Count > 0 {
			activeDays++
		}
		if day.Count > maxDay {
			maxDay = day.Count
		}
	}
	burst := 0
	if maxDay >= burstReportThreshold {
		burst = maxDay
	}

	mergedCount := 0
	mergedWeight := 0.0
	linesAdded := 0
	linesDeleted := 0
	for _, pr := range raw.PullRequests {
		if !pr.Merged {
			continue
		}
		mergedCount++
		mergedWeight += PRWeight(pr)
		linesAdded += pr.Additions
		linesDeleted += pr.Deletions
	}
	mergedWeight = math.Min(mergedWeight, maxTotalPRWeight)

	reposContributed := 0
	maxCommits := 0
	sumCommits := 0
	for _, repo := range raw.Repositories {
		if repo.Commits <= 0 {
			continue
		}
		reposContributed++
		sumCommits += repo.Commits
		if repo.Commits > maxCommits {
			maxCommits = repo.Commits
		}
	}
	topShare := 0.0
	if sumCommits > 0 {
		topShare = float64(maxCommits) / float64(sumCommits)
	}

	totalStars := 0
	totalForks := 0
	totalWatchers := 0
	for _, repo := range raw.OwnedRepos {
		totalStars += repo.Stars
		totalForks += repo.Forks
		totalWatchers += repo.Watchers
	}

	return StatsData{
		Handle:      raw.Login,
		DisplayName: raw.Name,
		AvatarURL:   raw.AvatarURL,

		// The calendar total may include contributions outside the day
		// list (private activity), so it is trusted as reported rather
		// than recomputed from the flattened days.
		CommitsTotal:          raw.CalendarTotal,
		ActiveDays:            activeDays,
		PRsMergedCount:        mergedCount,
		PRsMergedWeight:       mergedWeight,
		ReviewsSubmittedCount: raw.Reviews,
		IssuesClosedCount:     raw.IssuesClosed,
		LinesAdded:            linesAdded,
		LinesDeleted:          linesDeleted,

		ReposContributed:  reposContributed,
		TopRepoShare:      topShare,
		MaxCommitsIn10Min: burst,

		TotalStars:    totalStars,
		TotalForks:    totalForks,
		TotalWatchers: totalWatchers,

		HeatmapData: heatmap,
		FetchedAt:   time.Now().UTC().Format(time.RFC3339),
	}
}
