// Package github implements the Platform port for GitHub using the go-github
// library. Messages become issue comments; mentions come from the search API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Platform = (*Adapter)(nil)

// PlatformID identifies this adapter to the dispatch core.
const PlatformID = "github"

// Adapter implements the Platform port against the GitHub REST API. The
// underlying client is built during Authenticate with the following transport
// stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
type Adapter struct {
	httpClient *http.Client // Overrides the transport stack; set by tests.
	baseURL    *url.URL     // Overrides api.github.com; set by tests.

	gh       *gh.Client
	username string
}

// NewAdapter creates an unauthenticated GitHub adapter. Authenticate must
// succeed before Send or FetchMentions are used.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// NewAdapterWithHTTPClient creates an Adapter with an alternate base URL,
// for GitHub Enterprise endpoints and for tests injecting an httptest server.
// A nil httpClient keeps the default transport stack.
func NewAdapterWithHTTPClient(httpClient *http.Client, baseURL string) (*Adapter, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return &Adapter{httpClient: httpClient, baseURL: u}, nil
}

// ID returns the platform identifier.
func (a *Adapter) ID() string { return PlatformID }

// Authenticate builds the API client from the "token" credential field and
// verifies it by resolving the authenticated user. The resolved login is what
// FetchMentions searches for.
func (a *Adapter) Authenticate(ctx context.Context, creds model.CredentialRecord) error {
	token := creds.Field("token")
	if token == "" {
		return driven.Fatal("authenticate", errors.New(`github: credential field "token" is empty`))
	}

	var client *gh.Client
	if a.httpClient != nil {
		client = gh.NewClient(a.httpClient).WithAuthToken(token)
	} else {
		cacheTransport := httpcache.NewMemoryCacheTransport()
		rateLimitClient := github_ratelimit.NewClient(cacheTransport)
		client = gh.NewClient(rateLimitClient).WithAuthToken(token)
	}
	if a.baseURL != nil {
		client.BaseURL = a.baseURL
	}

	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		return classify("authenticate", resp, err)
	}

	a.gh = client
	a.username = user.GetLogin()
	slog.Info("github authenticated", "user", a.username)
	return nil
}

// Send posts the message body as an issue comment. The target has the form
// "owner/repo#number".
func (a *Adapter) Send(ctx context.Context, msg model.OutboundMessage) error {
	if a.gh == nil {
		return driven.Fatal("send", errors.New("github: not authenticated"))
	}

	owner, repo, number, err := splitTarget(msg.Target)
	if err != nil {
		// A malformed target never becomes deliverable by retrying.
		return driven.Fatal("send", err)
	}

	_, resp, err := a.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{
		Body: gh.Ptr(msg.Body),
	})
	if err != nil {
		return classify("send", resp, err)
	}

	logRateLimit(resp, msg.Target, 0, 1)
	return nil
}

// FetchMentions searches issues and pull requests mentioning the
// authenticated user, oldest first. The cursor is the updated-at timestamp of
// the last handled mention; the search window includes the cursor itself, so
// the boundary result reappears and is deduplicated downstream.
func (a *Adapter) FetchMentions(ctx context.Context, cursor string) ([]model.Mention, error) {
	if a.gh == nil {
		return nil, driven.Fatal("fetch mentions", errors.New("github: not authenticated"))
	}

	query := "mentions:" + a.username
	if cursor != "" {
		query += " updated:>=" + cursor
	}

	opts := &gh.SearchOptions{
		Sort:        "updated",
		Order:       "asc",
		ListOptions: gh.ListOptions{PerPage: 50},
	}

	var mentions []model.Mention

	for {
		result, resp, err := a.gh.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, classify("fetch mentions", resp, err)
		}

		logRateLimit(resp, "search/issues", opts.Page, len(result.Issues))

		for _, issue := range result.Issues {
			mentions = append(mentions, mapMention(issue))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return mentions, nil
}

// mapMention converts a search result issue to a domain mention. The ID keys
// on both the issue and its update time, so a later mention in the same issue
// counts as a new sighting.
func mapMention(issue *gh.Issue) model.Mention {
	updated := issue.GetUpdatedAt().UTC()

	text := issue.GetTitle()
	if body := issue.GetBody(); body != "" {
		text += "\n\n" + body
	}

	return model.Mention{
		ID:         fmt.Sprintf("%d@%s", issue.GetID(), updated.Format(time.RFC3339)),
		PlatformID: PlatformID,
		Author:     issue.GetUser().GetLogin(),
		Text:       text,
		Marker:     updated.Format(time.RFC3339),
		ObservedAt: time.Now().UTC(),
	}
}

// classify wraps a go-github error with its retry classification: client-side
// rejections are permanent, everything else is worth retrying. Rate limit
// errors stay transient even though they arrive as 403s.
func classify(op string, resp *gh.Response, err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return driven.Transient(op, err)
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
			return driven.Fatal(op, err)
		}
	}
	return driven.Transient(op, err)
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitTarget splits an "owner/repo#number" target into its components.
func splitTarget(target string) (string, string, int, error) {
	repoPart, numPart, ok := strings.Cut(target, "#")
	if !ok {
		return "", "", 0, fmt.Errorf("invalid target %q: expected owner/repo#number", target)
	}

	owner, repo, err := splitRepo(repoPart)
	if err != nil {
		return "", "", 0, err
	}

	number, err := strconv.Atoi(numPart)
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid issue number in target %q", target)
	}
	return owner, repo, number, nil
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
