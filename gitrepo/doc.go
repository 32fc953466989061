/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitrepo provides a long-lived handle onto a single local clone of
// the catalog repository. A Handle is opened once per process (cloning the
// remote on first use) and exposes the primitives the submission and
// bootstrap workflows are composed from:
//   - Synchronize fetches the default branch and fast-forwards it. Diverged
//     histories are reported as ErrNonFastForward and never merged.
//   - CreateBranch, Checkout and DeleteLocalBranch manage submission branches.
//   - WriteFile, StageAndCommit and Push produce and publish a change.
//
// The underlying go-git repository is not safe for concurrent mutation, so
// every operation holds the handle's mutex for its full duration. The lock is
// released between calls: two workflows interleave at the granularity of
// individual operations, not whole workflows.
//
// RemoteTagCommit resolves a tag on an arbitrary remote without a clone and
// without credentials.
package gitrepo
