/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.opentelemetry.io/otel/trace"
)

// Synchronize fetches the default branch from origin and integrates it with a
// fast-forward only. It is a no-op when the local branch already contains the
// remote tip, moves the branch and force checks out the working tree when the
// local branch is an ancestor of the remote tip, and fails with
// ErrNonFastForward when the histories have diverged. Merge commits are never
// created, which keeps the history linear for the history miner.
func (h *Handle) Synchronize(ctx context.Context) error {
	return h.do(ctx, "synchronize", func(ctx context.Context) error {
		log := clog.FromContext(ctx).With("branch", h.defaultBranch)
		trace.SpanFromContext(ctx).SetAttributes(branchAttr(h.defaultBranch))

		auth, err := h.auth()
		if err != nil {
			return err
		}

		refSpec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", h.defaultBranch, remoteName, h.defaultBranch))
		log.Infof("Fetching %s", refSpec)
		err = h.repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: remoteName,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Auth:       auth,
		})
		switch {
		case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		case errors.Is(err, transport.ErrEmptyRemoteRepository):
			log.Infof("Remote is empty, nothing to synchronize")
			return nil
		case errors.Is(err, git.NoMatchingRefSpecError{}):
			return fmt.Errorf("%w: remote branch %s: %w", ErrReferenceNotFound, h.defaultBranch, err)
		default:
			return fmt.Errorf("%w: fetching %s: %w", ErrTransport, h.defaultBranch, err)
		}

		remoteRef, err := h.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, h.defaultBranch), true)
		if err != nil {
			return fmt.Errorf("%w: remote-tracking branch %s/%s: %w", ErrReferenceNotFound, remoteName, h.defaultBranch, err)
		}

		localName := plumbing.NewBranchReferenceName(h.defaultBranch)
		localRef, err := h.repo.Reference(localName, true)
		switch {
		case errors.Is(err, plumbing.ErrReferenceNotFound):
			// The clone started empty and the remote has since gained commits.
			log.Infof("Creating %s at %s", h.defaultBranch, remoteRef.Hash())
			return h.fastForward(localName, remoteRef.Hash())
		case err != nil:
			return fmt.Errorf("%w: resolving %s: %w", ErrLocalIO, localName, err)
		}

		if localRef.Hash() == remoteRef.Hash() {
			log.Debugf("Already up to date at %s", localRef.Hash())
			return nil
		}

		localCommit, err := h.repo.CommitObject(localRef.Hash())
		if err != nil {
			return fmt.Errorf("%w: reading commit %s: %w", ErrLocalIO, localRef.Hash(), err)
		}
		remoteCommit, err := h.repo.CommitObject(remoteRef.Hash())
		if err != nil {
			return fmt.Errorf("%w: reading commit %s: %w", ErrLocalIO, remoteRef.Hash(), err)
		}

		if ahead, err := remoteCommit.IsAncestor(localCommit); err != nil {
			return fmt.Errorf("%w: walking history: %w", ErrLocalIO, err)
		} else if ahead {
			log.Debugf("Local %s already contains %s", h.defaultBranch, remoteRef.Hash())
			return nil
		}

		ff, err := localCommit.IsAncestor(remoteCommit)
		if err != nil {
			return fmt.Errorf("%w: walking history: %w", ErrLocalIO, err)
		}
		if !ff {
			return fmt.Errorf("%w: %s at %s has diverged from %s/%s at %s",
				ErrNonFastForward, h.defaultBranch, localRef.Hash(), remoteName, h.defaultBranch, remoteRef.Hash())
		}

		log.Infof("Fast-forwarding %s from %s to %s", h.defaultBranch, localRef.Hash(), remoteRef.Hash())
		return h.fastForward(localName, remoteRef.Hash())
	})
}

// fastForward points the branch at target and force checks it out so the
// working tree matches.
func (h *Handle) fastForward(branch plumbing.ReferenceName, target plumbing.Hash) error {
	if err := h.repo.Storer.SetReference(plumbing.NewHashReference(branch, target)); err != nil {
		return fmt.Errorf("%w: updating %s: %w", ErrLocalIO, branch, err)
	}
	return h.forceCheckout(branch)
}

// forceCheckout switches HEAD to branch, discarding local modifications and
// untracked files so a later stage of the applications directory only picks
// up what the current workflow writes.
func (h *Handle) forceCheckout(branch plumbing.ReferenceName) error {
	worktree, err := h.repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: getting worktree: %w", ErrLocalIO, err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branch, Force: true}); err != nil {
		return fmt.Errorf("%w: checking out %s: %w", ErrLocalIO, branch.Short(), err)
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("%w: cleaning worktree: %w", ErrLocalIO, err)
	}
	return nil
}
