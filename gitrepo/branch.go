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
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.opentelemetry.io/otel/trace"
)

// CreateBranch creates name at the current HEAD commit and switches the
// working tree to it.
func (h *Handle) CreateBranch(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("branch name cannot be empty")
	}
	return h.do(ctx, "create_branch", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(branchAttr(name))

		exists, err := h.branchExists(name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrBranchExists, name)
		}

		head, err := h.repo.Head()
		if err != nil {
			if errors.Is(err, plumbing.ErrReferenceNotFound) {
				return fmt.Errorf("%w: HEAD has no commit to branch from", ErrReferenceNotFound)
			}
			return fmt.Errorf("%w: resolving HEAD: %w", ErrLocalIO, err)
		}

		worktree, err := h.repo.Worktree()
		if err != nil {
			return fmt.Errorf("%w: getting worktree: %w", ErrLocalIO, err)
		}

		refName := plumbing.NewBranchReferenceName(name)
		clog.FromContext(ctx).Infof("Creating branch %s at %s", name, head.Hash())
		if err := worktree.Checkout(&git.CheckoutOptions{
			Branch: refName,
			Hash:   head.Hash(),
			Create: true,
		}); err != nil {
			return fmt.Errorf("%w: creating branch %s: %w", ErrLocalIO, name, err)
		}
		return nil
	})
}

// Checkout switches HEAD and the working tree to an existing local branch.
// Local modifications and untracked files are discarded.
func (h *Handle) Checkout(ctx context.Context, name string) error {
	return h.do(ctx, "checkout", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(branchAttr(name))

		exists, err := h.branchExists(name)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: branch %s", ErrReferenceNotFound, name)
		}

		clog.FromContext(ctx).Debugf("Checking out %s", name)
		return h.forceCheckout(plumbing.NewBranchReferenceName(name))
	})
}

// DeleteLocalBranch removes a local branch reference. It is used to roll back
// failed submissions and refuses to delete the default branch.
func (h *Handle) DeleteLocalBranch(ctx context.Context, name string) error {
	if name == h.defaultBranch {
		return fmt.Errorf("%w: %s", ErrProtectedBranch, name)
	}
	return h.do(ctx, "delete_local_branch", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(branchAttr(name))

		exists, err := h.branchExists(name)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: branch %s", ErrReferenceNotFound, name)
		}

		clog.FromContext(ctx).Infof("Deleting local branch %s", name)
		if err := h.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name)); err != nil {
			return fmt.Errorf("%w: deleting branch %s: %w", ErrLocalIO, name, err)
		}
		return nil
	})
}

// BranchTip returns the commit id and message at the tip of a local branch.
func (h *Handle) BranchTip(ctx context.Context, name string) (sha, message string, err error) {
	err = h.do(ctx, "branch_tip", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(branchAttr(name))

		commit, err := h.branchCommit(name)
		if err != nil {
			return err
		}
		sha, message = commit.Hash.String(), commit.Message
		return nil
	})
	return sha, message, err
}

// ReadFile returns the content of relPath in the tip commit of a local
// branch. The working tree is not consulted.
func (h *Handle) ReadFile(ctx context.Context, branch, relPath string) ([]byte, error) {
	var data []byte
	err := h.do(ctx, "read_file", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(branchAttr(branch))

		commit, err := h.branchCommit(branch)
		if err != nil {
			return err
		}
		file, err := commit.File(relPath)
		if errors.Is(err, object.ErrFileNotFound) {
			return fmt.Errorf("%w: %s on %s", ErrReferenceNotFound, relPath, branch)
		} else if err != nil {
			return fmt.Errorf("%w: reading %s on %s: %w", ErrLocalIO, relPath, branch, err)
		}
		content, err := file.Contents()
		if err != nil {
			return fmt.Errorf("%w: reading %s on %s: %w", ErrLocalIO, relPath, branch, err)
		}
		data = []byte(content)
		return nil
	})
	return data, err
}

func (h *Handle) branchCommit(name string) (*object.Commit, error) {
	ref, err := h.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("%w: branch %s", ErrReferenceNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("%w: looking up branch %s: %w", ErrLocalIO, name, err)
	}
	commit, err := h.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: reading commit %s: %w", ErrLocalIO, ref.Hash(), err)
	}
	return commit, nil
}
