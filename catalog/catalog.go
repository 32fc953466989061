/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package catalog defines the application records shared by the submission,
// bootstrap and registration workflows, the on-disk metadata file format, and
// the store interfaces those workflows depend on.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Dir is the directory of the catalog repository holding metadata files.
const Dir = "applications"

// Ext is the extension of metadata files.
const Ext = ".json"

var (
	// ErrNotFound is returned by stores when no matching record exists.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyRegistered is returned when registering an existing app id.
	ErrAlreadyRegistered = errors.New("app already registered")
	// ErrInvalidAppID is returned by ValidateAppID.
	ErrInvalidAppID = errors.New("invalid app id")
)

// App is a row of the catalog.
type App struct {
	ID                   string
	Repository           string
	IsVerified           bool
	IsPublished          bool
	LastSubmittedVersion string
	FirstSeen            time.Time
	LastUpdate           time.Time
}

// Ownership links a user to an application they registered.
type Ownership struct {
	AppID    string
	UserID   string
	Verified bool
}

// AppDirectory resolves the source repository registered for an app.
type AppDirectory interface {
	// RepositoryURL returns the repository of appID if userID is a verified
	// owner of it, and ErrNotFound otherwise.
	RepositoryURL(ctx context.Context, appID, userID string) (string, error)
}

// Writer persists apps mined from the catalog repository.
type Writer interface {
	// UpsertApps inserts apps, or updates their repository, version,
	// timestamps and publication state when they already exist.
	UpsertApps(ctx context.Context, apps []App) error
}

// Registry records newly registered apps and their owners.
type Registry interface {
	RegisterApp(ctx context.Context, app App, owner Ownership) error
}

// FilePath returns the metadata file path of appID, relative to the
// repository root.
func FilePath(appID string) string {
	return path.Join(Dir, appID+Ext)
}

// ValidateAppID checks that id is a reverse-DNS identifier that is safe to
// use as a file name and a branch name component.
func ValidateAppID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAppID)
	}
	parts := strings.Split(id, ".")
	if len(parts) < 2 {
		return fmt.Errorf("%w: %q is not reverse-DNS", ErrInvalidAppID, id)
	}
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("%w: %q has an empty component", ErrInvalidAppID, id)
		}
		for _, r := range part {
			if !isIDRune(r) {
				return fmt.Errorf("%w: %q contains %q", ErrInvalidAppID, id, r)
			}
		}
	}
	return nil
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}
