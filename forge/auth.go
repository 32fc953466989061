/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"
)

// Auth selects how requests to the forge are authenticated. Either Token, or
// all three GitHub App fields, must be set. The App installation wins when
// both are configured.
type Auth struct {
	Token string

	AppID          int64
	InstallationID int64
	PrivateKey     []byte
}

func (a Auth) useApp() bool {
	return a.AppID != 0 && a.InstallationID != 0 && len(a.PrivateKey) != 0
}

// NewHTTPClient returns an http.Client that authenticates as described by a.
func NewHTTPClient(ctx context.Context, a Auth) (*http.Client, error) {
	switch {
	case a.useApp():
		tr, err := ghinstallation.New(http.DefaultTransport, a.AppID, a.InstallationID, a.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("creating installation transport: %w", err)
		}
		return &http.Client{Transport: tr}, nil
	case a.Token != "":
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.Token})), nil
	default:
		return nil, errors.New("either a token or a GitHub App installation is required")
	}
}
