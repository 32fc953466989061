/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package bootstrap rebuilds the app table of the catalog database from the
// metadata files published in the catalog repository.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"chainguard.dev/appcatalog/catalog"
	"chainguard.dev/appcatalog/history"
	"github.com/chainguard-dev/clog"
)

// Repository is the subset of *gitrepo.Handle the job drives.
type Repository interface {
	DefaultBranch() string
	Checkout(ctx context.Context, name string) error
	Synchronize(ctx context.Context) error
}

// Miner reports touch times of tracked files. *history.Miner implements it.
type Miner interface {
	TouchTimes(ctx context.Context) (map[string]history.TouchTimes, error)
}

// Job refreshes the catalog database from the repository.
type Job struct {
	repo  Repository
	miner Miner
	store catalog.Writer
}

// New returns a Job.
func New(repo Repository, miner Miner, store catalog.Writer) (*Job, error) {
	if repo == nil || miner == nil || store == nil {
		return nil, errors.New("repository, miner and store are required")
	}
	return &Job{repo: repo, miner: miner, store: store}, nil
}

// Run brings the default branch up to date, mines its history and upserts one
// published app per metadata file.
func (j *Job) Run(ctx context.Context) error {
	log := clog.FromContext(ctx)

	main := j.repo.DefaultBranch()
	if err := j.repo.Checkout(ctx, main); err != nil {
		return fmt.Errorf("checking out %s: %w", main, err)
	}
	if err := j.repo.Synchronize(ctx); err != nil {
		return fmt.Errorf("synchronizing %s: %w", main, err)
	}

	times, err := j.miner.TouchTimes(ctx)
	if err != nil {
		return fmt.Errorf("mining history: %w", err)
	}

	apps := Apps(times)
	if len(apps) == 0 {
		log.Infof("No published apps found")
		return nil
	}
	if err := j.store.UpsertApps(ctx, apps); err != nil {
		return fmt.Errorf("storing %d apps: %w", len(apps), err)
	}
	log.Infof("Bootstrapped %d apps", len(apps))
	return nil
}

// Apps converts mined touch times into published apps. The app id is the
// file name without its extension.
func Apps(times map[string]history.TouchTimes) []catalog.App {
	apps := make([]catalog.App, 0, len(times))
	for file, tt := range times {
		base := path.Base(file)
		apps = append(apps, catalog.App{
			ID:                   strings.TrimSuffix(base, path.Ext(base)),
			Repository:           tt.Repository,
			IsPublished:          true,
			LastSubmittedVersion: tt.Version,
			FirstSeen:            tt.First,
			LastUpdate:           tt.Last,
		})
	}
	return apps
}
