/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package forge

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
)

// Owner is the account owning a repository: a UserOwner or an OrgOwner.
type Owner interface {
	isOwner()
}

// UserOwner is an individual account.
type UserOwner struct {
	ID    int64
	Login string
}

// OrgOwner is an organization account.
type OrgOwner struct {
	ID    int64
	Login string
}

func (UserOwner) isOwner() {}
func (OrgOwner) isOwner()  {}

// ResolveOwner looks up org/repo and classifies its owner.
func (c *Client) ResolveOwner(ctx context.Context, org, repo string) (_ Owner, err error) {
	ctx, end := span(ctx, "resolve_owner", attribute.String("github.repository", org+"/"+repo))
	defer end(&err)

	r, resp, err := c.rest.Repositories.Get(ctx, org, repo)
	if err != nil {
		return nil, apiError("getting repository "+org+"/"+repo, resp, err)
	}

	owner := r.GetOwner()
	if owner == nil || owner.GetID() == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrOwnerNotFound, org, repo)
	}

	log := clog.FromContext(ctx).With("owner", owner.GetLogin())
	switch owner.GetType() {
	case "Organization":
		log.Debugf("Repository %s/%s is owned by an organization", org, repo)
		return OrgOwner{ID: owner.GetID(), Login: owner.GetLogin()}, nil
	default:
		log.Debugf("Repository %s/%s is owned by a user", org, repo)
		return UserOwner{ID: owner.GetID(), Login: owner.GetLogin()}, nil
	}
}
