/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.opentelemetry.io/otel/trace"
)

// WriteFile writes data to relPath inside the working tree, creating parent
// directories as needed. Paths escaping the working tree are rejected.
func (h *Handle) WriteFile(ctx context.Context, relPath string, data []byte) error {
	return h.do(ctx, "write_file", func(ctx context.Context) error {
		fullPath, err := h.resolvePath(relPath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return fmt.Errorf("%w: creating directory for %s: %w", ErrLocalIO, relPath, err)
		}
		if err := os.WriteFile(fullPath, data, 0o644); err != nil {
			return fmt.Errorf("%w: writing %s: %w", ErrLocalIO, relPath, err)
		}
		clog.FromContext(ctx).Debugf("Wrote %d bytes to %s", len(data), relPath)
		return nil
	})
}

// resolvePath ensures path doesn't escape the working tree root.
func (h *Handle) resolvePath(path string) (string, error) {
	fullPath := filepath.Join(h.path, filepath.Clean(path))
	rel, err := filepath.Rel(h.path, fullPath)
	if err != nil {
		return "", fmt.Errorf("path %q: %w", path, err)
	}
	if rel == "." || strings.HasPrefix(rel, "..") || rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes worktree", path)
	}
	return fullPath, nil
}

// StageAndCommit stages every path matching the given globs and commits the
// index on top of HEAD (or as a root commit when HEAD is unborn). The commit
// is authored and committed now by the given identity. ErrNothingToCommit is
// returned when the staged tree equals HEAD's.
func (h *Handle) StageAndCommit(ctx context.Context, paths []string, message, authorName, authorEmail string) error {
	switch {
	case len(paths) == 0:
		return errors.New("paths cannot be empty")
	case strings.TrimSpace(message) == "":
		return errors.New("commit message cannot be empty")
	case authorName == "" || authorEmail == "":
		return errors.New("author name and email are required")
	}

	return h.do(ctx, "stage_and_commit", func(ctx context.Context) error {
		worktree, err := h.repo.Worktree()
		if err != nil {
			return fmt.Errorf("%w: getting worktree: %w", ErrLocalIO, err)
		}

		for _, p := range paths {
			if err := worktree.AddGlob(p); err != nil {
				if errors.Is(err, git.ErrGlobNoMatches) {
					return fmt.Errorf("%w: %q matched no files", ErrNothingToCommit, p)
				}
				return fmt.Errorf("%w: staging %s: %w", ErrLocalIO, p, err)
			}
		}

		sig := &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		}
		hash, err := worktree.Commit(message, &git.CommitOptions{
			Author:    sig,
			Committer: sig,
		})
		if err != nil {
			if errors.Is(err, git.ErrEmptyCommit) {
				return fmt.Errorf("%w: %w", ErrNothingToCommit, err)
			}
			return fmt.Errorf("%w: committing: %w", ErrLocalIO, err)
		}

		clog.FromContext(ctx).Infof("Committed %s: %s", hash, firstLine(message))
		return nil
	})
}

// Push publishes the named local branch to origin under the same name. There
// is no retry at this layer; a remote that is already up to date is success.
func (h *Handle) Push(ctx context.Context, branch string) error {
	if branch == "" {
		return errors.New("branch name cannot be empty")
	}
	return h.do(ctx, "push", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(branchAttr(branch))

		exists, err := h.branchExists(branch)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: branch %s", ErrReferenceNotFound, branch)
		}

		auth, err := h.auth()
		if err != nil {
			return err
		}

		refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
		log := clog.FromContext(ctx)
		log.Infof("Pushing %s", refSpec)

		if err := h.repo.PushContext(ctx, &git.PushOptions{
			RemoteName: remoteName,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Auth:       auth,
		}); err != nil {
			if errors.Is(err, git.NoErrAlreadyUpToDate) {
				log.Infof("Branch %s already up to date", branch)
				return nil
			}
			return fmt.Errorf("%w: pushing %s: %w", ErrTransport, branch, err)
		}
		return nil
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
