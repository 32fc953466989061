/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the catalog automation: the periodic bootstrap of the
// catalog database from the catalog repository, the submission queue, and the
// admin server that feeds it.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainguard.dev/appcatalog/bootstrap"
	"chainguard.dev/appcatalog/catalog/sqlstore"
	"chainguard.dev/appcatalog/credentials"
	"chainguard.dev/appcatalog/forge"
	"chainguard.dev/appcatalog/gitrepo"
	"chainguard.dev/appcatalog/history"
	"chainguard.dev/appcatalog/jobs"
	"chainguard.dev/appcatalog/registry"
	"chainguard.dev/appcatalog/server"
	"chainguard.dev/appcatalog/submission"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"
)

const bootstrapJob = "bootstrap"

type config struct {
	// Catalog repository
	RepoPath       string `env:"CATALOG_REPO_PATH,required"`
	RepoURL        string `env:"CATALOG_REPO_URL,required"`
	GitUsername    string `env:"GIT_USERNAME,default=x-access-token"`
	GitAccessToken string `env:"GIT_ACCESS_TOKEN,required"`
	DefaultBranch  string `env:"DEFAULT_BRANCH,default=main"`
	BranchPrefix   string `env:"BRANCH_PREFIX,default=catalogbot"`
	AuthorName     string `env:"COMMIT_AUTHOR_NAME,required"`
	AuthorEmail    string `env:"COMMIT_AUTHOR_EMAIL,required"`

	// Forge. GIT_ACCESS_TOKEN is used for the API unless a GitHub App is configured.
	ForgeOwner     string `env:"CATALOG_FORGE_OWNER,required"`
	ForgeRepo      string `env:"CATALOG_FORGE_REPO,required"`
	GitHubAPIURL   string `env:"GITHUB_API_URL"`
	AppID          int64  `env:"GITHUB_APP_ID"`
	InstallationID int64  `env:"GITHUB_APP_INSTALLATION_ID"`
	PrivateKey     string `env:"GITHUB_APP_PRIVATE_KEY"`

	// Catalog database
	DatabaseBackend string `env:"DATABASE_BACKEND,default=sqlite"`
	DatabaseURL     string `env:"DATABASE_URL,required"`

	BootstrapInterval time.Duration `env:"BOOTSTRAP_INTERVAL,default=5m"`
	SubmissionWorkers int           `env:"SUBMISSION_WORKERS,default=3"`
	QueueCapacity     int           `env:"SUBMISSION_QUEUE_CAPACITY,default=100"`
	AdminAddr         string        `env:"ADMIN_ADDR,default=127.0.0.1:8080"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	creds, err := credentials.New(cfg.RepoURL, cfg.GitUsername, cfg.GitAccessToken)
	if err != nil {
		clog.FatalContextf(ctx, "creating credentials: %v", err)
	}

	handle, err := gitrepo.Open(ctx, gitrepo.Options{
		Path:          cfg.RepoPath,
		RemoteURL:     cfg.RepoURL,
		DefaultBranch: cfg.DefaultBranch,
		Credentials:   creds,
	})
	if err != nil {
		clog.FatalContextf(ctx, "opening catalog repository: %v", err)
	}
	clog.InfoContextf(ctx, "Catalog repository ready at %s (%s)", handle.Path(), creds)

	httpClient, err := forge.NewHTTPClient(ctx, forge.Auth{
		Token:          cfg.GitAccessToken,
		AppID:          cfg.AppID,
		InstallationID: cfg.InstallationID,
		PrivateKey:     []byte(cfg.PrivateKey),
	})
	if err != nil {
		clog.FatalContextf(ctx, "creating forge http client: %v", err)
	}
	var forgeOpts []forge.Option
	if cfg.GitHubAPIURL != "" {
		forgeOpts = append(forgeOpts, forge.WithBaseURL(cfg.GitHubAPIURL))
	}
	gh, err := forge.New(httpClient, cfg.ForgeOwner, cfg.ForgeRepo, forgeOpts...)
	if err != nil {
		clog.FatalContextf(ctx, "creating forge client: %v", err)
	}

	store, err := sqlstore.Open(ctx, sqlstore.Backend(cfg.DatabaseBackend), cfg.DatabaseURL)
	if err != nil {
		clog.FatalContextf(ctx, "opening catalog database: %v", err)
	}
	defer store.Close()

	orch, err := submission.New(handle, store, gh, submission.Options{
		BranchPrefix: cfg.BranchPrefix,
		AuthorName:   cfg.AuthorName,
		AuthorEmail:  cfg.AuthorEmail,
	})
	if err != nil {
		clog.FatalContextf(ctx, "creating submission orchestrator: %v", err)
	}
	queue, err := jobs.NewQueue[submission.Request]("submission", cfg.SubmissionWorkers, cfg.QueueCapacity,
		func(ctx context.Context, req submission.Request) error {
			_, err := orch.Submit(ctx, req)
			return err
		})
	if err != nil {
		clog.FatalContextf(ctx, "creating submission queue: %v", err)
	}

	boot, err := bootstrap.New(handle, history.New(handle, history.Options{}), store)
	if err != nil {
		clog.FatalContextf(ctx, "creating bootstrap job: %v", err)
	}
	sched := jobs.NewScheduler()
	if err := sched.Every(bootstrapJob, cfg.BootstrapInterval, boot.Run); err != nil {
		clog.FatalContextf(ctx, "scheduling bootstrap: %v", err)
	}

	srv, err := server.New(server.Options{
		Submissions:  queue,
		Registrar:    registry.New(gh, store),
		Jobs:         sched,
		BootstrapJob: bootstrapJob,
		Health:       store,
	})
	if err != nil {
		clog.FatalContextf(ctx, "creating admin server: %v", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return sched.Run(ctx) })
	eg.Go(func() error { return queue.Run(ctx) })
	eg.Go(func() error {
		clog.InfoContextf(ctx, "Admin server listening on %s", cfg.AdminAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		clog.FatalContextf(ctx, "catalogbot exited: %v", err)
	}
}
