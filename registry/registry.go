/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package registry registers apps in the catalog and decides whether the
// registering user is a verified owner of the app's source repository.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"chainguard.dev/appcatalog/catalog"
	"chainguard.dev/appcatalog/forge"
	"github.com/chainguard-dev/clog"
)

var (
	// ErrInvalidRepositoryURL is returned for unparseable repository URLs, and
	// for GitHub ids whose URL is not a github.com repository.
	ErrInvalidRepositoryURL = errors.New("invalid repository url")
	// ErrRDNNMismatch is returned when a GitHub app id does not name the
	// owner and repository of its URL.
	ErrRDNNMismatch = errors.New("app id does not match repository")
	// ErrMissingUser is returned for registrations without a user id.
	ErrMissingUser = errors.New("user id cannot be empty")
)

// githubPrefixes mark app ids derived from a GitHub repository, as in
// com.github.{owner}.{repo}.
var githubPrefixes = []string{"com.github.", "io.github."}

// OwnerResolver classifies repository owners. *forge.Client implements it.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, org, repo string) (forge.Owner, error)
}

// Registration is a request to add an app to the catalog.
type Registration struct {
	AppID         string
	RepositoryURL string
	// UserID identifies the registering user in the catalog.
	UserID string
	// GitHubUserID is the user's GitHub account id, or 0 when the user has
	// not linked one.
	GitHubUserID int64
}

// Registrar validates and records registrations.
type Registrar struct {
	owners OwnerResolver
	store  catalog.Registry
}

// New returns a Registrar.
func New(owners OwnerResolver, store catalog.Registry) *Registrar {
	return &Registrar{owners: owners, store: store}
}

// Register validates reg, decides ownership verification and stores the app.
// Owner lookups that fail leave the app unverified rather than failing the
// registration.
func (r *Registrar) Register(ctx context.Context, reg Registration) (catalog.App, error) {
	if err := catalog.ValidateAppID(reg.AppID); err != nil {
		return catalog.App{}, err
	}
	if reg.UserID == "" {
		return catalog.App{}, ErrMissingUser
	}
	u, err := url.Parse(reg.RepositoryURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return catalog.App{}, fmt.Errorf("%w: %q", ErrInvalidRepositoryURL, reg.RepositoryURL)
	}

	log := clog.FromContext(ctx).With("app", reg.AppID)

	verified := false
	if isGitHubID(reg.AppID) {
		owner, repo, err := matchGitHub(reg.AppID, u)
		if err != nil {
			return catalog.App{}, err
		}

		if reg.GitHubUserID != 0 {
			resolved, err := r.owners.ResolveOwner(ctx, owner, repo)
			if err != nil {
				log.Warnf("Unable to resolve owner of %s/%s, registering unverified: %v", owner, repo, err)
			} else {
				verified = Verified(resolved, reg.GitHubUserID)
			}
		}
	}

	app := catalog.App{
		ID:         reg.AppID,
		Repository: reg.RepositoryURL,
		IsVerified: verified,
	}
	if err := r.store.RegisterApp(ctx, app, catalog.Ownership{
		AppID:    reg.AppID,
		UserID:   reg.UserID,
		Verified: verified,
	}); err != nil {
		return catalog.App{}, err
	}

	log.Infof("Registered app (verified=%t)", verified)
	return app, nil
}

// Verified reports whether the GitHub account githubUserID may be trusted as
// the owner of a repository owned by owner. Organizations are never verified
// automatically.
func Verified(owner forge.Owner, githubUserID int64) bool {
	switch o := owner.(type) {
	case forge.UserOwner:
		return o.ID == githubUserID
	case forge.OrgOwner:
		// TODO: verify admin membership of the organization once user
		// tokens are available to this service.
		return false
	default:
		return false
	}
}

func isGitHubID(id string) bool {
	for _, p := range githubPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// matchGitHub checks that a com.github.{owner}.{repo} style id names the
// repository at u and returns the owner and repository.
func matchGitHub(id string, u *url.URL) (string, string, error) {
	parts := strings.Split(id, ".")
	if len(parts) != 4 {
		return "", "", fmt.Errorf("%w: GitHub app ids must have exactly 4 components, got %q", ErrRDNNMismatch, id)
	}
	if u.Host != "github.com" {
		return "", "", fmt.Errorf("%w: GitHub app ids must be served from github.com, got %q", ErrInvalidRepositoryURL, u.Host)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("%w: expected https://github.com/{owner}/{repo}, got %q", ErrInvalidRepositoryURL, u.String())
	}
	owner, repo := segments[0], strings.TrimSuffix(segments[1], ".git")

	if parts[2] != owner {
		return "", "", fmt.Errorf("%w: owner %q does not match %q", ErrRDNNMismatch, parts[2], owner)
	}
	if parts[3] != repo {
		return "", "", fmt.Errorf("%w: repository %q does not match %q", ErrRDNNMismatch, parts[3], repo)
	}
	return owner, repo, nil
}
