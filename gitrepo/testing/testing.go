/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package testing provides git fixtures for tests: bare remotes in a temp
// directory and a seeding clone that commits and pushes to them.
package testing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chainguard.dev/appcatalog/credentials"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// NewRemote creates an empty bare repository whose HEAD points at main and
// returns its path, which doubles as the remote URL.
func NewRemote(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "remote.git")
	if _, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
		Bare:        true,
	}); err != nil {
		t.Fatalf("PlainInit bare: %v", err)
	}
	return dir
}

// Credentials returns a provider bound to url.
func Credentials(t *testing.T, url string) *credentials.Provider {
	t.Helper()

	creds, err := credentials.New(url, "catalogbot", "not-a-real-token")
	if err != nil {
		t.Fatalf("credentials.New: %v", err)
	}
	return creds
}

// Seeder is an independent clone used to publish commits to a remote, playing
// the part of other contributors.
type Seeder struct {
	Repo *git.Repository
	Dir  string
}

// NewSeeder creates a working repository on main with origin pointing at remote.
func NewSeeder(t *testing.T, remote string) *Seeder {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{remote},
	}); err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}
	return &Seeder{Repo: repo, Dir: dir}
}

// Commit writes files (relative path to content), commits them at when and
// pushes main. An empty content deletes the file. Returns the commit id.
func (s *Seeder) Commit(t *testing.T, message string, when time.Time, files map[string]string) string {
	t.Helper()
	return s.CommitTo(t, "main", message, when, files)
}

// CommitTo is Commit, but pushes the new commit to the remote branch named
// branch instead of main.
func (s *Seeder) CommitTo(t *testing.T, branch, message string, when time.Time, files map[string]string) string {
	t.Helper()

	wt, err := s.Repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	for rel, content := range files {
		abs := filepath.Join(s.Dir, filepath.FromSlash(rel))
		if content == "" {
			if _, err := wt.Remove(rel); err != nil {
				t.Fatalf("Remove(%s): %v", rel, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := wt.Add(rel); err != nil {
			t.Fatalf("Add(%s): %v", rel, err)
		}
	}

	sig := &object.Signature{Name: "Seeder", Email: "seeder@example.com", When: when}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: len(files) == 0,
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	s.push(t, "refs/heads/main:refs/heads/"+branch)
	return hash.String()
}

// Tag creates a tag at the seeder's HEAD and pushes it. Annotated tags carry
// a tag object; lightweight tags point at the commit directly.
func (s *Seeder) Tag(t *testing.T, name string, annotated bool) string {
	t.Helper()

	head, err := s.Repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	var opts *git.CreateTagOptions
	if annotated {
		opts = &git.CreateTagOptions{
			Tagger:  &object.Signature{Name: "Seeder", Email: "seeder@example.com", When: time.Now()},
			Message: "release " + name,
		}
	}
	if _, err := s.Repo.CreateTag(name, head.Hash(), opts); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	s.push(t, "refs/tags/"+name+":refs/tags/"+name)
	return head.Hash().String()
}

// ResetTo moves main to a fresh root commit and force pushes it, rewriting the
// remote's history out from under existing clones.
func (s *Seeder) ResetTo(t *testing.T, message string, when time.Time) string {
	t.Helper()

	sig := object.Signature{Name: "Seeder", Email: "seeder@example.com", When: when}
	emptyTree := &object.Tree{}
	obj := s.Repo.Storer.NewEncodedObject()
	if err := emptyTree.Encode(obj); err != nil {
		t.Fatalf("encoding tree: %v", err)
	}
	treeHash, err := s.Repo.Storer.SetEncodedObject(obj)
	if err != nil {
		t.Fatalf("storing tree: %v", err)
	}

	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  treeHash,
	}
	obj = s.Repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		t.Fatalf("encoding commit: %v", err)
	}
	hash, err := s.Repo.Storer.SetEncodedObject(obj)
	if err != nil {
		t.Fatalf("storing commit: %v", err)
	}

	if err := s.Repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	s.push(t, "+refs/heads/main:refs/heads/main")
	return hash.String()
}

func (s *Seeder) push(t *testing.T, refSpec string) {
	t.Helper()

	if err := s.Repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(refSpec)},
	}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		t.Fatalf("Push %s: %v", refSpec, err)
	}
}

// RemoteBranch returns the commit id of refs/heads/<branch> on remote, or ""
// when the branch does not exist.
func RemoteBranch(t *testing.T, remote, branch string) string {
	t.Helper()

	repo, err := git.PlainOpen(remote)
	if err != nil {
		t.Fatalf("PlainOpen(%s): %v", remote, err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}

// DeleteRemoteBranch removes refs/heads/<branch> from remote.
func DeleteRemoteBranch(t *testing.T, remote, branch string) {
	t.Helper()

	repo, err := git.PlainOpen(remote)
	if err != nil {
		t.Fatalf("PlainOpen(%s): %v", remote, err)
	}
	if err := repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(branch)); err != nil {
		t.Fatalf("RemoveReference(%s): %v", branch, err)
	}
}
