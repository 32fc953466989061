/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package submission publishes one app update to the catalog repository: it
// writes the app's metadata file on a fresh branch, pushes it, and opens a
// pull request, undoing local changes when an early step fails.
package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/appcatalog/catalog"
	"chainguard.dev/appcatalog/forge"
	"chainguard.dev/appcatalog/gitrepo"
	"chainguard.dev/appcatalog/metrics"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5/plumbing"
)

// DefaultPRBody is used when Options.PRBody is empty.
const DefaultPRBody = "This pull request was automatically generated by the app catalog."

// Repository is the subset of *gitrepo.Handle a submission drives.
type Repository interface {
	DefaultBranch() string
	Checkout(ctx context.Context, name string) error
	Synchronize(ctx context.Context) error
	CreateBranch(ctx context.Context, name string) error
	DeleteLocalBranch(ctx context.Context, name string) error
	BranchTip(ctx context.Context, name string) (sha, message string, err error)
	ReadFile(ctx context.Context, branch, relPath string) ([]byte, error)
	WriteFile(ctx context.Context, relPath string, data []byte) error
	StageAndCommit(ctx context.Context, paths []string, message, authorName, authorEmail string) error
	Push(ctx context.Context, branch string) error
}

// TagResolver resolves a tag on a remote repository to a commit id.
type TagResolver interface {
	RemoteTagCommit(ctx context.Context, repoURL, tag string) (string, error)
}

// TagResolverFunc adapts a function to TagResolver.
type TagResolverFunc func(ctx context.Context, repoURL, tag string) (string, error)

// RemoteTagCommit implements TagResolver.
func (f TagResolverFunc) RemoteTagCommit(ctx context.Context, repoURL, tag string) (string, error) {
	return f(ctx, repoURL, tag)
}

// PullRequestOpener opens pull requests against the catalog repository.
type PullRequestOpener interface {
	OpenPullRequest(ctx context.Context, pr forge.PullRequest) (*forge.PullRequestInfo, error)
}

// Options configures an Orchestrator.
type Options struct {
	// BranchPrefix namespaces submission branches: {prefix}/{app}-{version}.
	BranchPrefix string
	AuthorName   string
	AuthorEmail  string
	// PRBody defaults to DefaultPRBody.
	PRBody string
	// Tags defaults to listing remote refs with gitrepo.RemoteTagCommit.
	Tags TagResolver
}

// Request asks for version of an app to be submitted on behalf of a user.
type Request struct {
	AppID string
	// Version is a tag of the app's source repository.
	Version string
	UserID  string
}

// Key identifies submissions that must not run concurrently.
func (r Request) Key() string {
	return r.AppID + "@" + r.Version
}

// Result describes a successful submission.
type Result struct {
	Branch      string
	Commit      string
	PullRequest *forge.PullRequestInfo
}

// Orchestrator runs submissions.
type Orchestrator struct {
	repo   Repository
	apps   catalog.AppDirectory
	tags   TagResolver
	prs    PullRequestOpener
	prefix string
	name   string
	email  string
	body   string
}

// New returns an Orchestrator.
func New(repo Repository, apps catalog.AppDirectory, prs PullRequestOpener, opts Options) (*Orchestrator, error) {
	switch {
	case repo == nil || apps == nil || prs == nil:
		return nil, errors.New("repository, app directory and pull request opener are required")
	case opts.BranchPrefix == "":
		return nil, errors.New("branch prefix cannot be empty")
	case opts.AuthorName == "" || opts.AuthorEmail == "":
		return nil, errors.New("commit author name and email are required")
	}
	if opts.PRBody == "" {
		opts.PRBody = DefaultPRBody
	}
	if opts.Tags == nil {
		opts.Tags = TagResolverFunc(gitrepo.RemoteTagCommit)
	}
	return &Orchestrator{
		repo:   repo,
		apps:   apps,
		tags:   opts.Tags,
		prs:    prs,
		prefix: strings.TrimSuffix(opts.BranchPrefix, "/"),
		name:   opts.AuthorName,
		email:  opts.AuthorEmail,
		body:   opts.PRBody,
	}, nil
}

// BranchName returns the submission branch for req.
func (o *Orchestrator) BranchName(req Request) string {
	return fmt.Sprintf("%s/%s-%s", o.prefix, req.AppID, req.Version)
}

// CommitMessage returns the commit message and pull request title for req.
func CommitMessage(req Request) string {
	return fmt.Sprintf("%s version %s", req.AppID, req.Version)
}

// Submit runs the submission workflow for req. On failure the returned error
// is an *Error naming the last state reached.
//
// Failures before the branch exists leave the repository untouched. Failures
// while preparing the commit return to the default branch and delete the
// submission branch. Once a push has been attempted the branch is kept. A
// retry that finds the branch with this exact commit on it resumes from the
// push; an up-to-date remote counts as pushed, so a failed pull request is
// retried the same way. A branch holding anything else fails with
// gitrepo.ErrBranchExists.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (_ *Result, err error) {
	state := Idle
	defer func() {
		metrics.Submissions.WithLabelValues(state.String(), metrics.Outcome(err)).Inc()
	}()
	fail := func(err error) error {
		return &Error{State: state, Err: err}
	}

	if err := o.validate(req); err != nil {
		return nil, fail(err)
	}

	branch := o.BranchName(req)
	main := o.repo.DefaultBranch()
	log := clog.FromContext(ctx).With("app", req.AppID, "version", req.Version, "branch", branch)

	repoURL, err := o.apps.RepositoryURL(ctx, req.AppID, req.UserID)
	if err != nil {
		return nil, fail(fmt.Errorf("resolving repository of %s: %w", req.AppID, err))
	}
	state = RepoURLResolved

	commit, err := o.tags.RemoteTagCommit(ctx, repoURL, req.Version)
	if err != nil {
		return nil, fail(fmt.Errorf("resolving %s of %s: %w", req.Version, repoURL, err))
	}
	log.Infof("Resolved %s to %s", req.Version, commit)

	if err := o.repo.Checkout(ctx, main); err != nil {
		return nil, fail(err)
	}
	state = MainCheckedOut

	if err := o.repo.Synchronize(ctx); err != nil {
		return nil, fail(err)
	}
	state = Synced

	data, err := catalog.AppFile{Source: repoURL, Commit: commit, Version: req.Version}.Marshal()
	if err != nil {
		return nil, fail(fmt.Errorf("encoding app file: %w", err))
	}
	message := CommitMessage(req)

	switch err := o.repo.CreateBranch(ctx, branch); {
	case errors.Is(err, gitrepo.ErrBranchExists):
		// A branch holding some other content belongs to another submission
		// of the same version and must survive this failure.
		if !o.holdsSubmission(ctx, branch, message, catalog.FilePath(req.AppID), data) {
			return nil, fail(err)
		}
		log.Infof("Resuming %s left by an earlier attempt", branch)
		if err := o.repo.Checkout(ctx, branch); err != nil {
			return nil, fail(err)
		}
		state = Committed

	case err != nil:
		o.rollback(ctx, main, branch)
		return nil, fail(err)

	default:
		state = BranchCreated

		if err := o.repo.WriteFile(ctx, catalog.FilePath(req.AppID), data); err != nil {
			o.rollback(ctx, main, branch)
			return nil, fail(err)
		}
		state = FileWritten

		if err := o.repo.StageAndCommit(ctx, []string{catalog.Dir}, message, o.name, o.email); err != nil {
			o.rollback(ctx, main, branch)
			return nil, fail(err)
		}
		state = Committed
	}

	if err := o.repo.Push(ctx, branch); err != nil {
		log.Warnf("Push failed, keeping %s for a retry: %v", branch, err)
		return nil, fail(err)
	}
	state = Pushed

	pr, err := o.prs.OpenPullRequest(ctx, forge.PullRequest{
		Title: message,
		Head:  branch,
		Base:  main,
		Body:  o.body,
	})
	if err != nil {
		log.Warnf("Opening pull request failed, %s is pushed: %v", branch, err)
		return nil, fail(err)
	}
	state = PROpened

	log.Infof("Submitted as #%d: %s", pr.Number, pr.URL)
	return &Result{Branch: branch, Commit: commit, PullRequest: pr}, nil
}

// holdsSubmission reports whether the tip of branch is the commit this
// submission would have made.
func (o *Orchestrator) holdsSubmission(ctx context.Context, branch, message, path string, data []byte) bool {
	log := clog.FromContext(ctx).With("branch", branch)

	_, tipMessage, err := o.repo.BranchTip(ctx, branch)
	if err != nil {
		log.Warnf("Inspecting existing branch: %v", err)
		return false
	}
	if strings.TrimSpace(tipMessage) != message {
		return false
	}
	got, err := o.repo.ReadFile(ctx, branch, path)
	if err != nil {
		log.Debugf("Existing branch has no %s: %v", path, err)
		return false
	}
	return bytes.Equal(got, data)
}

// rollback returns to the default branch and deletes the submission branch.
// Failures are logged; the caller reports the error that triggered it.
func (o *Orchestrator) rollback(ctx context.Context, main, branch string) {
	log := clog.FromContext(ctx)
	log.Warnf("Rolling back %s", branch)

	if err := o.repo.Checkout(ctx, main); err != nil {
		clog.ErrorContextf(ctx, "Rollback: checking out %s: %v", main, err)
	}
	if err := o.repo.DeleteLocalBranch(ctx, branch); err != nil {
		if errors.Is(err, gitrepo.ErrReferenceNotFound) {
			log.Debugf("Rollback: %s was never created", branch)
			return
		}
		clog.ErrorContextf(ctx, "Rollback: deleting %s: %v", branch, err)
	}
}

func (o *Orchestrator) validate(req Request) error {
	if err := catalog.ValidateAppID(req.AppID); err != nil {
		return err
	}
	if req.Version == "" {
		return errors.New("version cannot be empty")
	}
	if req.UserID == "" {
		return errors.New("user id cannot be empty")
	}
	if err := plumbing.NewBranchReferenceName(o.BranchName(req)).Validate(); err != nil {
		return fmt.Errorf("version %q cannot be used in a branch name: %w", req.Version, err)
	}
	return nil
}
