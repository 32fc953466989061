/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package forge talks to the GitHub API on behalf of the catalog: it opens
// pull requests against the catalog repository and classifies the owners of
// app source repositories.
package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrForgeAPI wraps failed GitHub API calls.
	ErrForgeAPI = errors.New("forge api error")
	// ErrOwnerNotFound is returned when a repository reports no owner.
	ErrOwnerNotFound = errors.New("repository owner not found")
)

var tracer = otel.Tracer("chainguard.dev/appcatalog/forge")

// Client is a GitHub client bound to one catalog repository.
type Client struct {
	owner string
	repo  string
	rest  *github.Client
	gql   *githubv4.Client
}

// Option customizes a Client.
type Option func(*options) error

type options struct {
	baseURL    *url.URL
	graphqlURL string
}

// WithBaseURL points the REST and GraphQL clients at a GitHub Enterprise
// instance or a test server. The GraphQL endpoint is derived as
// <base>/graphql.
func WithBaseURL(base string) Option {
	return func(o *options) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parsing base url: %w", err)
		}
		o.baseURL = u
		o.graphqlURL = base + "graphql"
		return nil
	}
}

// New returns a Client for the catalog repository owner/repo, sending requests
// through httpClient. See NewHTTPClient.
func New(httpClient *http.Client, owner, repo string, opts ...Option) (*Client, error) {
	if owner == "" || repo == "" {
		return nil, errors.New("catalog owner and repository are required")
	}
	if httpClient == nil {
		return nil, errors.New("http client cannot be nil")
	}

	var o options
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	rest := github.NewClient(httpClient)
	gql := githubv4.NewClient(httpClient)
	if o.baseURL != nil {
		rest.BaseURL = o.baseURL
		gql = githubv4.NewEnterpriseClient(o.graphqlURL, httpClient)
	}

	return &Client{
		owner: owner,
		repo:  repo,
		rest:  rest,
		gql:   gql,
	}, nil
}

// span starts a span for a forge call and returns a function ending it.
func span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, s := tracer.Start(ctx, "forge."+name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			s.RecordError(err)
			s.SetStatus(codes.Error, err.Error())
		}
		s.End()
	}
}

// apiError wraps err with ErrForgeAPI, keeping the HTTP status when known.
func apiError(op string, resp *github.Response, err error) error {
	if resp != nil && resp.Response != nil {
		return fmt.Errorf("%w: %s: status %d: %w", ErrForgeAPI, op, resp.StatusCode, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrForgeAPI, op, err)
}
