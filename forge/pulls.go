/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package forge

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
	"go.opentelemetry.io/otel/attribute"
)

// PullRequest describes a pull request to open against the catalog repository.
type PullRequest struct {
	Title string
	// Head is the branch carrying the change.
	Head string
	// Base is the branch the change targets.
	Base string
	Body string
}

// PullRequestInfo identifies an open pull request.
type PullRequestInfo struct {
	Number int
	URL    string
	// Existing is set when the pull request was already open.
	Existing bool
}

// OpenPullRequest opens pr against the catalog repository. When an open pull
// request with the same head and base exists it is returned instead, so
// retrying after a partial failure does not create duplicates.
func (c *Client) OpenPullRequest(ctx context.Context, pr PullRequest) (_ *PullRequestInfo, err error) {
	ctx, end := span(ctx, "open_pull_request", attribute.String("git.branch", pr.Head))
	defer end(&err)

	switch {
	case pr.Head == "" || pr.Base == "":
		return nil, errors.New("head and base branches are required")
	case pr.Title == "":
		return nil, errors.New("title cannot be empty")
	}

	log := clog.FromContext(ctx).With("head", pr.Head, "base", pr.Base)

	existing, err := c.findOpenPullRequest(ctx, pr.Head, pr.Base)
	if err != nil {
		// Creating will still fail cleanly if a pull request does exist.
		log.Warnf("Failed to look up existing pull request: %v", err)
	} else if existing != nil {
		log.Infof("Pull request #%d already open: %s", existing.Number, existing.URL)
		return existing, nil
	}

	created, resp, err := c.rest.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.Ptr(pr.Title),
		Head:  github.Ptr(pr.Head),
		Base:  github.Ptr(pr.Base),
		Body:  github.Ptr(pr.Body),
	})
	if err != nil {
		return nil, apiError(fmt.Sprintf("creating pull request %s -> %s", pr.Head, pr.Base), resp, err)
	}

	log.Infof("Created PR #%d: %s", created.GetNumber(), created.GetHTMLURL())
	return &PullRequestInfo{
		Number: created.GetNumber(),
		URL:    created.GetHTMLURL(),
	}, nil
}

func (c *Client) findOpenPullRequest(ctx context.Context, head, base string) (*PullRequestInfo, error) {
	var query struct {
		Repository struct {
			PullRequests struct {
				Nodes []struct {
					Number int
					Url    string
				}
			} `graphql:"pullRequests(headRefName: $headRef, baseRefName: $baseRef, states: [OPEN], first: 1)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}

	variables := map[string]any{
		"owner":   githubv4.String(c.owner),
		"repo":    githubv4.String(c.repo),
		"headRef": githubv4.String(head),
		"baseRef": githubv4.String(base),
	}
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("%w: querying pull requests: %w", ErrForgeAPI, err)
	}

	if len(query.Repository.PullRequests.Nodes) == 0 {
		return nil, nil
	}
	found := query.Repository.PullRequests.Nodes[0]
	return &PullRequestInfo{
		Number:   found.Number,
		URL:      found.Url,
		Existing: true,
	}, nil
}
