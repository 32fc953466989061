/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package forge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeGitHub struct {
	*httptest.Server
	existingPR string // GraphQL nodes JSON
	creates    atomic.Int32
	lastCreate map[string]any
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()

	f := &fakeGitHub{existingPR: `[]`}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/elementary/user-app", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"id": 1, "name": "user-app", "owner": {"login": "alice", "id": 42, "type": "User"}}`)
	})
	mux.HandleFunc("GET /repos/elementary/org-app", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"id": 2, "name": "org-app", "owner": {"login": "elementary", "id": 7, "type": "Organization"}}`)
	})
	mux.HandleFunc("GET /repos/elementary/orphan", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"id": 3, "name": "orphan"}`)
	})
	mux.HandleFunc("GET /repos/elementary/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message": "Not Found"}`)
	})
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "pullRequests") {
			t.Errorf("unexpected graphql query: %s", body)
		}
		io.WriteString(w, `{"data": {"repository": {"pullRequests": {"nodes": `+f.existingPR+`}}}}`)
	})
	mux.HandleFunc("POST /repos/elementary/appcenter-reviews/pulls", func(w http.ResponseWriter, r *http.Request) {
		f.creates.Add(1)
		if err := json.NewDecoder(r.Body).Decode(&f.lastCreate); err != nil {
			t.Errorf("decoding create request: %v", err)
		}
		if f.lastCreate["head"] == "conflict" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, `{"message": "Validation Failed"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"number": 12, "html_url": "https://github.com/elementary/appcenter-reviews/pull/12"}`)
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeGitHub) *Client {
	t.Helper()

	c, err := New(f.Client(), "elementary", "appcenter-reviews", WithBaseURL(f.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestResolveOwner(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newFakeGitHub(t))

	tests := []struct {
		repo    string
		want    Owner
		wantErr error
	}{
		{repo: "user-app", want: UserOwner{ID: 42, Login: "alice"}},
		{repo: "org-app", want: OrgOwner{ID: 7, Login: "elementary"}},
		{repo: "orphan", wantErr: ErrOwnerNotFound},
		{repo: "missing", wantErr: ErrForgeAPI},
	}
	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			got, err := c.ResolveOwner(ctx, "elementary", tt.repo)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveOwner: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveOwner: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ResolveOwner() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpenPullRequestCreates(t *testing.T) {
	f := newFakeGitHub(t)
	c := newTestClient(t, f)

	got, err := c.OpenPullRequest(context.Background(), PullRequest{
		Title: "com.github.alice.app version v1.0.0",
		Head:  "appcenter-website/com.github.alice.app-v1.0.0",
		Base:  "main",
		Body:  "automated",
	})
	if err != nil {
		t.Fatalf("OpenPullRequest: %v", err)
	}

	want := &PullRequestInfo{Number: 12, URL: "https://github.com/elementary/appcenter-reviews/pull/12"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("OpenPullRequest() mismatch (-want +got):\n%s", diff)
	}
	if n := f.creates.Load(); n != 1 {
		t.Errorf("create calls = %d, want 1", n)
	}
	wantReq := map[string]any{
		"title": "com.github.alice.app version v1.0.0",
		"head":  "appcenter-website/com.github.alice.app-v1.0.0",
		"base":  "main",
		"body":  "automated",
	}
	if diff := cmp.Diff(wantReq, f.lastCreate); diff != "" {
		t.Errorf("create request mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenPullRequestReturnsExisting(t *testing.T) {
	f := newFakeGitHub(t)
	f.existingPR = `[{"number": 5, "url": "https://github.com/elementary/appcenter-reviews/pull/5"}]`
	c := newTestClient(t, f)

	got, err := c.OpenPullRequest(context.Background(), PullRequest{Title: "t", Head: "h", Base: "main"})
	if err != nil {
		t.Fatalf("OpenPullRequest: %v", err)
	}

	want := &PullRequestInfo{Number: 5, URL: "https://github.com/elementary/appcenter-reviews/pull/5", Existing: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("OpenPullRequest() mismatch (-want +got):\n%s", diff)
	}
	if n := f.creates.Load(); n != 0 {
		t.Errorf("create calls = %d, want 0", n)
	}
}

func TestOpenPullRequestAPIError(t *testing.T) {
	c := newTestClient(t, newFakeGitHub(t))

	_, err := c.OpenPullRequest(context.Background(), PullRequest{Title: "t", Head: "conflict", Base: "main"})
	if !errors.Is(err, ErrForgeAPI) {
		t.Fatalf("OpenPullRequest: got %v, want ErrForgeAPI", err)
	}
}

func TestOpenPullRequestValidation(t *testing.T) {
	c := newTestClient(t, newFakeGitHub(t))

	for _, pr := range []PullRequest{
		{Title: "t", Base: "main"},
		{Title: "t", Head: "h"},
		{Head: "h", Base: "main"},
	} {
		if _, err := c.OpenPullRequest(context.Background(), pr); err == nil {
			t.Errorf("OpenPullRequest(%+v): expected error", pr)
		}
	}
}

func TestNewHTTPClient(t *testing.T) {
	ctx := context.Background()

	if _, err := NewHTTPClient(ctx, Auth{}); err == nil {
		t.Error("NewHTTPClient(empty): expected error")
	}
	if _, err := NewHTTPClient(ctx, Auth{Token: "abc"}); err != nil {
		t.Errorf("NewHTTPClient(token): %v", err)
	}
	if _, err := NewHTTPClient(ctx, Auth{AppID: 1, InstallationID: 2, PrivateKey: []byte("not a key")}); err == nil {
		t.Error("NewHTTPClient(bad key): expected error")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(http.DefaultClient, "", "repo"); err == nil {
		t.Error("New(empty owner): expected error")
	}
	if _, err := New(nil, "owner", "repo"); err == nil {
		t.Error("New(nil client): expected error")
	}
}
