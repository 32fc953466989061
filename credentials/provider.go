/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package credentials supplies basic-auth credentials for exactly one git
// remote. Requests for any other URL are refused, so a redirect or a
// re-pointed remote never receives the token.
package credentials

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// ErrAuthRejected is returned when credentials are requested for a URL other
// than the configured remote.
var ErrAuthRejected = errors.New("credentials rejected for remote")

// Provider holds the remote identity of the catalog repository.
type Provider struct {
	url      string
	username string
	password string
}

// New constructs a Provider for the given remote URL.
func New(url, username, password string) (*Provider, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return nil, errors.New("remote url cannot be empty")
	case username == "":
		return nil, errors.New("username cannot be empty")
	}
	return &Provider{
		url:      url,
		username: username,
		password: password,
	}, nil
}

// For returns the credential for url, which must exactly match the configured
// remote URL.
func (p *Provider) For(url string) (*githttp.BasicAuth, error) {
	if url != p.url {
		return nil, fmt.Errorf("%w: %q", ErrAuthRejected, url)
	}
	return &githttp.BasicAuth{
		Username: p.username,
		Password: p.password,
	}, nil
}

// URL returns the remote URL the provider is bound to.
func (p *Provider) URL() string {
	return p.url
}

// String never includes the password.
func (p *Provider) String() string {
	return fmt.Sprintf("credentials{url=%s, username=%s}", p.url, p.username)
}

// LogValue implements slog.LogValuer so structured loggers never see the
// password.
func (p *Provider) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", p.url),
		slog.String("username", p.username),
	)
}
