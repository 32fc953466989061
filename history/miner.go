/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package history reconstructs when each catalog metadata file was first
// introduced and last changed by walking the commit history of the catalog
// repository.
package history

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"chainguard.dev/appcatalog/catalog"
	"chainguard.dev/appcatalog/gitrepo"
	"chainguard.dev/appcatalog/metrics"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// TouchTimes is derived from history for one tracked file.
type TouchTimes struct {
	// Repository and Version come from the file's content at HEAD.
	Repository string
	Version    string
	// First is the author time of the oldest commit changing the file.
	First time.Time
	// Last is the author time of the newest commit changing the file.
	Last time.Time
}

// Options configures a Miner.
type Options struct {
	// Dir is the tracked directory. Defaults to catalog.Dir.
	Dir string
	// Ext is the tracked file extension. Defaults to catalog.Ext.
	Ext string
}

// Miner computes TouchTimes from a repository handle.
type Miner struct {
	handle *gitrepo.Handle
	dir    string
	ext    string
}

// New returns a Miner reading from h.
func New(h *gitrepo.Handle, opts Options) *Miner {
	if opts.Dir == "" {
		opts.Dir = catalog.Dir
	}
	if opts.Ext == "" {
		opts.Ext = catalog.Ext
	}
	return &Miner{
		handle: h,
		dir:    strings.Trim(opts.Dir, "/"),
		ext:    opts.Ext,
	}
}

func (m *Miner) tracked(name string) bool {
	return strings.HasPrefix(name, m.dir+"/") && path.Ext(name) == m.ext
}

// TouchTimes walks every commit reachable from HEAD and returns the touch
// times of each tracked file that exists at HEAD, keyed by its path relative
// to the repository root. An empty repository yields an empty map.
//
// Commits are visited newest first. The first time a path is seen its commit
// time becomes both First and Last; every later, older, sighting only moves
// First back. Visiting in any other order swaps the two.
func (m *Miner) TouchTimes(ctx context.Context) (map[string]TouchTimes, error) {
	result := make(map[string]TouchTimes)

	err := m.handle.WithRepository(ctx, func(ctx context.Context, repo *git.Repository) error {
		log := clog.FromContext(ctx)

		head, err := repo.Head()
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			log.Infof("Repository has no commits")
			return nil
		} else if err != nil {
			return fmt.Errorf("resolving HEAD: %w", err)
		}

		headCommit, err := repo.CommitObject(head.Hash())
		if err != nil {
			return fmt.Errorf("reading HEAD commit: %w", err)
		}
		headTree, err := headCommit.Tree()
		if err != nil {
			return fmt.Errorf("reading HEAD tree: %w", err)
		}
		contents := &contentCache{tree: headTree, files: make(map[string]*catalog.AppFile)}

		iter, err := repo.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
		if err != nil {
			return fmt.Errorf("walking history: %w", err)
		}
		defer iter.Close()

		commits := 0
		err = iter.ForEach(func(c *object.Commit) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			commits++

			// Root commits have nothing to diff against.
			if c.NumParents() == 0 {
				return nil
			}

			changed, err := m.changedPaths(c)
			if err != nil {
				return err
			}

			when := c.Author.When.UTC()
			for _, name := range changed {
				if existing, ok := result[name]; ok {
					existing.First = when
					result[name] = existing
					continue
				}

				file := contents.get(ctx, name)
				if file == nil {
					continue
				}
				result[name] = TouchTimes{
					Repository: file.Source,
					Version:    file.Version,
					First:      when,
					Last:       when,
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("walking history: %w", err)
		}

		log.Infof("Mined %d commits, %d tracked files", commits, len(result))
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TrackedFiles.Set(float64(len(result)))
	return result, nil
}

// changedPaths diffs c against its first parent and returns the tracked paths
// it added, modified or deleted.
func (m *Miner) changedPaths(c *object.Commit) ([]string, error) {
	parent, err := c.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("reading parent of %s: %w", c.Hash, err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", parent.Hash, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", c.Hash, err)
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, fmt.Errorf("diffing %s: %w", c.Hash, err)
	}

	var paths []string
	for _, change := range changes {
		name := change.To.Name
		if name == "" {
			name = change.From.Name
		}
		if m.tracked(name) {
			paths = append(paths, name)
		}
	}
	return paths, nil
}

// contentCache parses each tracked file at HEAD at most once. Files that are
// gone from HEAD or fail to parse are cached as nil and warned about once.
type contentCache struct {
	tree  *object.Tree
	files map[string]*catalog.AppFile
}

func (c *contentCache) get(ctx context.Context, name string) *catalog.AppFile {
	if f, ok := c.files[name]; ok {
		return f
	}
	c.files[name] = c.load(ctx, name)
	return c.files[name]
}

func (c *contentCache) load(ctx context.Context, name string) *catalog.AppFile {
	log := clog.FromContext(ctx).With("path", name)

	file, err := c.tree.File(name)
	if errors.Is(err, object.ErrFileNotFound) {
		log.Warnf("Skipping file no longer present at HEAD")
		return nil
	} else if err != nil {
		log.Warnf("Skipping unreadable file: %v", err)
		return nil
	}

	content, err := file.Contents()
	if err != nil {
		log.Warnf("Skipping unreadable file: %v", err)
		return nil
	}

	parsed, err := catalog.ParseAppFile([]byte(content))
	if err != nil {
		log.Warnf("Skipping unparseable file: %v", err)
		return nil
	}
	return &parsed
}
