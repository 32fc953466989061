/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package submission

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chainguard.dev/appcatalog/catalog"
	"chainguard.dev/appcatalog/forge"
	"chainguard.dev/appcatalog/gitrepo"
	gittesting "chainguard.dev/appcatalog/gitrepo/testing"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-cmp/cmp"
)

const (
	appID   = "com.example.App"
	version = "v1.0.0"
	userID  = "user-1"
)

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type fakeApps map[string]string

func (f fakeApps) RepositoryURL(_ context.Context, app, user string) (string, error) {
	if url, ok := f[app]; ok && user == userID {
		return url, nil
	}
	return "", catalog.ErrNotFound
}

type fakePRs struct {
	opened []forge.PullRequest
	err    error
}

func (f *fakePRs) OpenPullRequest(_ context.Context, pr forge.PullRequest) (*forge.PullRequestInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opened = append(f.opened, pr)
	return &forge.PullRequestInfo{Number: len(f.opened), URL: "https://github.com/example/catalog/pull/1"}, nil
}

type fixture struct {
	remote  string
	seeder  *gittesting.Seeder
	handle  *gitrepo.Handle
	tagSHA  string
	prs     *fakePRs
	orch    *Orchestrator
	catalog map[string]string
}

// newFixture builds a catalog remote seeded with files, a source repository
// tagged v1.0.0, and an orchestrator wired to both.
func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()

	if files == nil {
		files = map[string]string{"README.md": "catalog\n"}
	}
	remote := gittesting.NewRemote(t)
	seeder := gittesting.NewSeeder(t, remote)
	seeder.Commit(t, "initial", epoch, files)

	source := gittesting.NewRemote(t)
	sourceSeeder := gittesting.NewSeeder(t, source)
	sourceSeeder.Commit(t, "release", epoch, map[string]string{"main.go": "package main\n"})
	tagSHA := sourceSeeder.Tag(t, version, true)

	handle, err := gitrepo.Open(context.Background(), gitrepo.Options{
		Path:        filepath.Join(t.TempDir(), "clone"),
		RemoteURL:   remote,
		Credentials: gittesting.Credentials(t, remote),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	prs := &fakePRs{}
	orch, err := New(handle, fakeApps{appID: source}, prs, Options{
		BranchPrefix: "catalogbot",
		AuthorName:   "Catalog Bot",
		AuthorEmail:  "bot@example.com",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &fixture{
		remote:  remote,
		seeder:  seeder,
		handle:  handle,
		tagSHA:  tagSHA,
		prs:     prs,
		orch:    orch,
		catalog: map[string]string{appID: source},
	}
}

func (f *fixture) request() Request {
	return Request{AppID: appID, Version: version, UserID: userID}
}

func (f *fixture) branch() string {
	return f.orch.BranchName(f.request())
}

func wantState(t *testing.T, err error, want State) *Error {
	t.Helper()

	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("Submit: got %v, want *Error", err)
	}
	if serr.State != want {
		t.Fatalf("Submit failed at %s, want %s (err: %v)", serr.State, want, serr.Err)
	}
	return serr
}

func (f *fixture) assertCurrentBranch(t *testing.T, want string) {
	t.Helper()

	got, err := f.handle.CurrentBranch(context.Background())
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if got != want {
		t.Fatalf("CurrentBranch = %q, want %q", got, want)
	}
}

func (f *fixture) assertBranchExists(t *testing.T, want bool) {
	t.Helper()

	got, err := f.handle.BranchExists(context.Background(), f.branch())
	if err != nil {
		t.Fatalf("BranchExists: %v", err)
	}
	if got != want {
		t.Fatalf("BranchExists(%s) = %v, want %v", f.branch(), got, want)
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.orch.Submit(ctx, f.request())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if res.Branch != "catalogbot/com.example.App-v1.0.0" {
		t.Errorf("Branch = %q", res.Branch)
	}
	if res.Commit != f.tagSHA {
		t.Errorf("Commit = %s, want %s", res.Commit, f.tagSHA)
	}

	wantPRs := []forge.PullRequest{{
		Title: "com.example.App version v1.0.0",
		Head:  res.Branch,
		Base:  "main",
		Body:  DefaultPRBody,
	}}
	if diff := cmp.Diff(wantPRs, f.prs.opened); diff != "" {
		t.Errorf("pull requests mismatch (-want +got):\n%s", diff)
	}

	// The pushed branch carries the metadata file.
	remoteTip := gittesting.RemoteBranch(t, f.remote, res.Branch)
	if remoteTip == "" {
		t.Fatalf("branch %s was not pushed", res.Branch)
	}
	repo, err := git.PlainOpen(f.remote)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	commit, err := repo.CommitObject(plumbing.NewHash(remoteTip))
	if err != nil {
		t.Fatalf("CommitObject: %v", err)
	}
	if commit.Message != "com.example.App version v1.0.0" {
		t.Errorf("commit message = %q", commit.Message)
	}
	if commit.Author.Name != "Catalog Bot" || commit.Author.Email != "bot@example.com" {
		t.Errorf("author = %s <%s>", commit.Author.Name, commit.Author.Email)
	}
	file, err := commit.File(catalog.FilePath(appID))
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	content, err := file.Contents()
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	got, err := catalog.ParseAppFile([]byte(content))
	if err != nil {
		t.Fatalf("ParseAppFile: %v", err)
	}
	want := catalog.AppFile{Source: f.catalog[appID], Commit: f.tagSHA, Version: version}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("app file mismatch (-want +got):\n%s", diff)
	}

	// main is untouched on the remote.
	if tip := gittesting.RemoteBranch(t, f.remote, "main"); tip == remoteTip {
		t.Error("submission was pushed to main")
	}
}

func TestSubmitWriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	// A directory where the metadata file belongs makes the write fail.
	f := newFixture(t, map[string]string{
		catalog.FilePath(appID) + "/keep": "x",
	})

	_, err := f.orch.Submit(ctx, f.request())
	serr := wantState(t, err, BranchCreated)
	if !errors.Is(serr, gitrepo.ErrLocalIO) {
		t.Errorf("Submit: got %v, want ErrLocalIO", err)
	}

	f.assertCurrentBranch(t, "main")
	f.assertBranchExists(t, false)
	if len(f.prs.opened) != 0 {
		t.Errorf("opened %d pull requests, want 0", len(f.prs.opened))
	}
}

func TestSubmitPushFailureKeepsBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	// Someone else already pushed unrelated work under the same branch name.
	f.seeder.CommitTo(t, f.branch(), "conflicting", epoch.Add(time.Hour), map[string]string{"other.txt": "x"})

	_, err := f.orch.Submit(ctx, f.request())
	serr := wantState(t, err, Committed)
	if !errors.Is(serr, gitrepo.ErrTransport) {
		t.Errorf("Submit: got %v, want ErrTransport", err)
	}

	f.assertBranchExists(t, true)
	if len(f.prs.opened) != 0 {
		t.Errorf("opened %d pull requests, want 0", len(f.prs.opened))
	}
}

func TestSubmitPullRequestFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.prs.err = forge.ErrForgeAPI

	_, err := f.orch.Submit(ctx, f.request())
	serr := wantState(t, err, Pushed)
	if !errors.Is(serr, forge.ErrForgeAPI) {
		t.Errorf("Submit: got %v, want ErrForgeAPI", err)
	}

	f.assertBranchExists(t, true)
	if gittesting.RemoteBranch(t, f.remote, f.branch()) == "" {
		t.Error("branch should remain pushed")
	}
}

func TestSubmitExistingBranchIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if err := f.handle.CreateBranch(ctx, f.branch()); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := f.handle.Checkout(ctx, "main"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	_, err := f.orch.Submit(ctx, f.request())
	serr := wantState(t, err, Synced)
	if !errors.Is(serr, gitrepo.ErrBranchExists) {
		t.Errorf("Submit: got %v, want ErrBranchExists", err)
	}
	f.assertBranchExists(t, true)
	f.assertCurrentBranch(t, "main")
}

func TestSubmitRetryAfterPullRequestFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.prs.err = forge.ErrForgeAPI

	_, err := f.orch.Submit(ctx, f.request())
	wantState(t, err, Pushed)
	pushed := gittesting.RemoteBranch(t, f.remote, f.branch())

	f.prs.err = nil
	res, err := f.orch.Submit(ctx, f.request())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Branch != f.branch() || res.Commit != f.tagSHA {
		t.Errorf("retry = %+v", res)
	}
	if len(f.prs.opened) != 1 {
		t.Fatalf("opened %d pull requests, want 1", len(f.prs.opened))
	}
	if got := f.prs.opened[0].Head; got != f.branch() {
		t.Errorf("pull request head = %q, want %q", got, f.branch())
	}
	// The branch is reused, not recommitted.
	if got := gittesting.RemoteBranch(t, f.remote, f.branch()); got != pushed {
		t.Errorf("remote branch moved from %s to %s", pushed, got)
	}
}

func TestSubmitRetryAfterPushFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.seeder.CommitTo(t, f.branch(), "conflicting", epoch.Add(time.Hour), map[string]string{"other.txt": "x"})
	_, err := f.orch.Submit(ctx, f.request())
	wantState(t, err, Committed)

	// The conflicting branch is cleaned up on the remote.
	gittesting.DeleteRemoteBranch(t, f.remote, f.branch())

	if _, err := f.orch.Submit(ctx, f.request()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.prs.opened) != 1 {
		t.Fatalf("opened %d pull requests, want 1", len(f.prs.opened))
	}
	local, _, err := f.handle.BranchTip(ctx, f.branch())
	if err != nil {
		t.Fatalf("BranchTip: %v", err)
	}
	if got := gittesting.RemoteBranch(t, f.remote, f.branch()); got != local {
		t.Errorf("remote branch = %s, want local tip %s", got, local)
	}
	f.assertCurrentBranch(t, f.branch())
}

func TestSubmitStaleBranchWithSameMessageIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	// Same commit message, different metadata.
	if err := f.handle.CreateBranch(ctx, f.branch()); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := f.handle.WriteFile(ctx, catalog.FilePath(appID), []byte(`{"version":"v0.0.1"}`)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.handle.StageAndCommit(ctx, []string{catalog.Dir}, CommitMessage(f.request()), "Someone", "someone@example.com"); err != nil {
		t.Fatalf("StageAndCommit: %v", err)
	}
	if err := f.handle.Checkout(ctx, "main"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	_, err := f.orch.Submit(ctx, f.request())
	serr := wantState(t, err, Synced)
	if !errors.Is(serr, gitrepo.ErrBranchExists) {
		t.Errorf("Submit: got %v, want ErrBranchExists", err)
	}
	f.assertCurrentBranch(t, "main")
	if gittesting.RemoteBranch(t, f.remote, f.branch()) != "" {
		t.Error("stale branch should not be pushed")
	}
	if len(f.prs.opened) != 0 {
		t.Errorf("opened %d pull requests, want 0", len(f.prs.opened))
	}
}

func TestSubmitEarlyFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	tests := []struct {
		name      string
		req       Request
		wantState State
		wantErr   error
	}{
		{"unregistered app", Request{AppID: "com.example.Other", Version: version, UserID: userID}, Idle, catalog.ErrNotFound},
		{"not an owner", Request{AppID: appID, Version: version, UserID: "someone-else"}, Idle, catalog.ErrNotFound},
		{"missing tag", Request{AppID: appID, Version: "v9.9.9", UserID: userID}, RepoURLResolved, gitrepo.ErrReferenceNotFound},
		{"invalid app id", Request{AppID: "../../etc/passwd", Version: version, UserID: userID}, Idle, nil},
		{"invalid version", Request{AppID: appID, Version: "v1..0", UserID: userID}, Idle, nil},
		{"missing user", Request{AppID: appID, Version: version}, Idle, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Submit(ctx, tt.req)
			serr := wantState(t, err, tt.wantState)
			if tt.wantErr != nil && !errors.Is(serr, tt.wantErr) {
				t.Errorf("Submit: got %v, want %v", err, tt.wantErr)
			}
		})
	}

	f.assertCurrentBranch(t, "main")
	if len(f.prs.opened) != 0 {
		t.Errorf("opened %d pull requests, want 0", len(f.prs.opened))
	}
}

func TestSubmitSyncFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	// History on the remote was rewritten behind the clone's back.
	f.seeder.ResetTo(t, "rewritten", epoch.Add(time.Hour))

	_, err := f.orch.Submit(ctx, f.request())
	serr := wantState(t, err, MainCheckedOut)
	if !errors.Is(serr, gitrepo.ErrNonFastForward) {
		t.Errorf("Submit: got %v, want ErrNonFastForward", err)
	}
	f.assertBranchExists(t, false)
}

func TestNewValidation(t *testing.T) {
	prs := &fakePRs{}
	apps := fakeApps{}
	repo := &gitrepo.Handle{}

	for _, opts := range []Options{
		{AuthorName: "a", AuthorEmail: "b"},
		{BranchPrefix: "p", AuthorEmail: "b"},
		{BranchPrefix: "p", AuthorName: "a"},
	} {
		if _, err := New(repo, apps, prs, opts); err == nil {
			t.Errorf("New(%+v): expected error", opts)
		}
	}
	if _, err := New(nil, apps, prs, Options{BranchPrefix: "p", AuthorName: "a", AuthorEmail: "b"}); err == nil {
		t.Error("New(nil repo): expected error")
	}
}

func TestStateString(t *testing.T) {
	if got := PROpened.String(); got != "pr_opened" {
		t.Errorf("PROpened.String() = %q", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Errorf("State(42).String() = %q", got)
	}
}
