/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/appcatalog/metrics"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RemoteTagCommit resolves tag on the repository at repoURL to a commit id by
// listing the remote's references. Nothing is cloned and no credentials are
// sent. Annotated tags resolve to the commit they point at.
func RemoteTagCommit(ctx context.Context, repoURL, tag string) (sha string, err error) {
	if repoURL == "" || tag == "" {
		return "", errors.New("repository url and tag are required")
	}

	ctx, span := tracer.Start(ctx, "gitrepo.remote_tag_commit")
	span.SetAttributes(attribute.String("git.tag", tag))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.ObserveGit("remote_tag_commit", start, err)
	}()

	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{repoURL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{PeelingOption: git.AppendPeeled})
	if err != nil {
		return "", fmt.Errorf("%w: listing %s: %w", ErrTransport, repoURL, err)
	}

	name := plumbing.NewTagReferenceName(tag).String()
	var direct, peeled plumbing.Hash
	for _, ref := range refs {
		switch ref.Name().String() {
		case name:
			direct = ref.Hash()
		case name + "^{}":
			peeled = ref.Hash()
		}
	}

	switch {
	case !peeled.IsZero():
		sha = peeled.String()
	case !direct.IsZero():
		sha = direct.String()
	default:
		return "", fmt.Errorf("%w: tag %s on %s", ErrReferenceNotFound, tag, repoURL)
	}

	clog.FromContext(ctx).With("repository", repoURL).Debugf("Resolved tag %s to %s", tag, sha)
	return sha, nil
}
