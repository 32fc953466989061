/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chainguard.dev/appcatalog/credentials"
	"chainguard.dev/appcatalog/metrics"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const remoteName = "origin"

var (
	// ErrTransport wraps clone, fetch, push and ls-remote failures.
	ErrTransport = errors.New("git transport error")
	// ErrNonFastForward is returned when the local default branch cannot be
	// fast-forwarded to the remote tip.
	ErrNonFastForward = errors.New("cannot fast-forward")
	// ErrReferenceNotFound is returned for missing branches, tags and files.
	ErrReferenceNotFound = errors.New("reference not found")
	// ErrBranchExists is returned by CreateBranch when the branch is present.
	ErrBranchExists = errors.New("branch already exists")
	// ErrProtectedBranch is returned when deleting the default branch.
	ErrProtectedBranch = errors.New("refusing to delete the default branch")
	// ErrNothingToCommit is returned when the index matches HEAD.
	ErrNothingToCommit = errors.New("nothing to commit")
	// ErrLocalIO wraps working tree and object store failures.
	ErrLocalIO = errors.New("local repository i/o error")
)

var tracer = otel.Tracer("chainguard.dev/appcatalog/gitrepo")

// Options configures Open.
type Options struct {
	// Path is the on-disk location of the clone.
	Path string
	// RemoteURL is the catalog repository to clone when Path holds no repository.
	RemoteURL string
	// DefaultBranch is the branch submissions start from. Defaults to "main".
	DefaultBranch string
	// Credentials authenticates every network operation against RemoteURL.
	Credentials *credentials.Provider
}

// Handle owns the local clone of the catalog repository. All methods are safe
// for concurrent use; they serialize on a single mutex.
type Handle struct {
	path          string
	defaultBranch string
	creds         *credentials.Provider

	mu   sync.Mutex
	repo *git.Repository
}

// Open returns a Handle for the repository at opts.Path, cloning
// opts.RemoteURL into it when no repository exists there yet. Cloning an empty
// remote yields an empty repository with the remote configured.
func Open(ctx context.Context, opts Options) (*Handle, error) {
	switch {
	case opts.Path == "":
		return nil, errors.New("path cannot be empty")
	case opts.RemoteURL == "":
		return nil, errors.New("remote url cannot be empty")
	case opts.Credentials == nil:
		return nil, errors.New("credentials cannot be nil")
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "main"
	}

	log := clog.FromContext(ctx).With("path", opts.Path)

	h := &Handle{
		path:          opts.Path,
		defaultBranch: opts.DefaultBranch,
		creds:         opts.Credentials,
	}

	repo, err := git.PlainOpen(opts.Path)
	if err == nil {
		log.Infof("Opened existing repository")
		h.repo = repo
		return h, nil
	}
	log.Infof("No repository at path (%v), cloning %s", err, opts.RemoteURL)

	auth, err := opts.Credentials.For(opts.RemoteURL)
	if err != nil {
		return nil, err
	}

	repo, err = git.PlainCloneContext(ctx, opts.Path, false, &git.CloneOptions{
		URL:           opts.RemoteURL,
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(opts.DefaultBranch),
		Auth:          auth,
	})
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		log.Infof("Remote is empty, initializing an empty repository")
		repo, err = initEmpty(opts.Path, opts.RemoteURL, opts.DefaultBranch)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: cloning %s: %w", ErrTransport, opts.RemoteURL, err)
	}

	h.repo = repo
	return h, nil
}

// initEmpty mirrors what cloning an empty repository produces with the git
// CLI: no commits, HEAD pointing at the unborn default branch, and origin
// configured for later fetches and pushes.
func initEmpty(path, remoteURL, branch string) (*git.Repository, error) {
	repo, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(branch),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing %s: %w", ErrLocalIO, path, err)
	}

	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{remoteURL},
		Fetch: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remoteName)),
		},
	}); err != nil {
		return nil, fmt.Errorf("%w: configuring remote: %w", ErrLocalIO, err)
	}

	return repo, nil
}

// Path returns the root of the working tree.
func (h *Handle) Path() string {
	return h.path
}

// DefaultBranch returns the name of the branch submissions start from.
func (h *Handle) DefaultBranch() string {
	return h.defaultBranch
}

// WithRepository runs fn while holding the handle lock. The repository must
// not be retained after fn returns.
func (h *Handle) WithRepository(ctx context.Context, fn func(context.Context, *git.Repository) error) error {
	return h.do(ctx, "with_repository", func(ctx context.Context) error {
		return fn(ctx, h.repo)
	})
}

// do serializes an operation on the handle and records a span and a latency
// observation for it.
func (h *Handle) do(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "gitrepo."+op)
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.ObserveGit(op, start, err)
	}()

	h.mu.Lock()
	defer h.mu.Unlock()
	span.AddEvent("lock acquired")

	return fn(ctx)
}

// auth resolves credentials for the URL currently configured on origin. The
// provider refuses anything but the configured catalog URL.
func (h *Handle) auth() (*githttp.BasicAuth, error) {
	remote, err := h.repo.Remote(remoteName)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up remote %s: %w", ErrLocalIO, remoteName, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return nil, fmt.Errorf("remote %s has no url", remoteName)
	}
	return h.creds.For(urls[0])
}

// IsEmpty reports whether the repository has no commits on HEAD.
func (h *Handle) IsEmpty(ctx context.Context) (bool, error) {
	var empty bool
	err := h.do(ctx, "is_empty", func(context.Context) error {
		_, err := h.repo.Head()
		switch {
		case errors.Is(err, plumbing.ErrReferenceNotFound):
			empty = true
			return nil
		case err != nil:
			return fmt.Errorf("%w: resolving HEAD: %w", ErrLocalIO, err)
		}
		return nil
	})
	return empty, err
}

// Head returns the commit id HEAD points at.
func (h *Handle) Head(ctx context.Context) (string, error) {
	var sha string
	err := h.do(ctx, "head", func(context.Context) error {
		ref, err := h.repo.Head()
		if err != nil {
			if errors.Is(err, plumbing.ErrReferenceNotFound) {
				return fmt.Errorf("%w: HEAD", ErrReferenceNotFound)
			}
			return fmt.Errorf("%w: resolving HEAD: %w", ErrLocalIO, err)
		}
		sha = ref.Hash().String()
		return nil
	})
	return sha, err
}

// CurrentBranch returns the short name of the branch HEAD is attached to.
func (h *Handle) CurrentBranch(ctx context.Context) (string, error) {
	var name string
	err := h.do(ctx, "current_branch", func(context.Context) error {
		ref, err := h.repo.Storer.Reference(plumbing.HEAD)
		if err != nil {
			return fmt.Errorf("%w: reading HEAD: %w", ErrLocalIO, err)
		}
		if ref.Type() != plumbing.SymbolicReference {
			return fmt.Errorf("HEAD is detached at %s", ref.Hash())
		}
		name = strings.TrimPrefix(ref.Target().String(), "refs/heads/")
		return nil
	})
	return name, err
}

// BranchExists reports whether a local branch with the given name exists.
func (h *Handle) BranchExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := h.do(ctx, "branch_exists", func(context.Context) error {
		var err error
		exists, err = h.branchExists(name)
		return err
	})
	return exists, err
}

func (h *Handle) branchExists(name string) (bool, error) {
	_, err := h.repo.Reference(plumbing.NewBranchReferenceName(name), false)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("%w: looking up branch %s: %w", ErrLocalIO, name, err)
	}
}

func branchAttr(name string) attribute.KeyValue {
	return attribute.String("git.branch", name)
}
