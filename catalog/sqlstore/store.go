/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package sqlstore implements the catalog store interfaces on PostgreSQL and
// SQLite through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chainguard.dev/appcatalog/catalog"
	"github.com/chainguard-dev/clog"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// Backend names a supported database.
type Backend string

const (
	Postgres Backend = "postgres"
	SQLite   Backend = "sqlite"
)

func (b Backend) driverName() (string, error) {
	switch b {
	case Postgres:
		return "pgx", nil
	case SQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database backend %q, must be postgres or sqlite", b)
	}
}

// Store is a catalog store backed by a SQL database.
type Store struct {
	db      *sql.DB
	backend Backend
}

var (
	_ catalog.AppDirectory = (*Store)(nil)
	_ catalog.Writer       = (*Store)(nil)
	_ catalog.Registry     = (*Store)(nil)
)

// Open migrates the schema and returns a Store for backend at dsn. For SQLite
// the dsn is a file path.
func Open(ctx context.Context, backend Backend, dsn string) (*Store, error) {
	driverName, err := backend.driverName()
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, backend, dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", backend, err)
	}
	if backend == SQLite {
		// A single connection avoids "database is locked" errors.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", backend, err)
	}

	return &Store{db: db, backend: backend}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.backend != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const upsertApp = `INSERT INTO apps (id, repository, is_verified, is_published, last_submitted_version, first_seen, last_update)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	repository = excluded.repository,
	last_submitted_version = excluded.last_submitted_version,
	first_seen = excluded.first_seen,
	last_update = excluded.last_update,
	is_published = excluded.is_published`

// UpsertApps inserts apps in a single transaction. Existing rows keep their
// verification state.
func (s *Store) UpsertApps(ctx context.Context, apps []catalog.App) (err error) {
	if len(apps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertApp))
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, app := range apps {
		if _, err := stmt.ExecContext(ctx,
			app.ID,
			app.Repository,
			app.IsVerified,
			app.IsPublished,
			nullString(app.LastSubmittedVersion),
			nullTime(app.FirstSeen),
			nullTime(app.LastUpdate),
		); err != nil {
			return fmt.Errorf("upserting app %s: %w", app.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	clog.FromContext(ctx).Infof("Upserted %d apps", len(apps))
	return nil
}

// RepositoryURL returns the repository of appID when userID is a verified
// owner of it.
func (s *Store) RepositoryURL(ctx context.Context, appID, userID string) (string, error) {
	const query = `SELECT a.repository FROM apps a
JOIN app_owners o ON o.app_id = a.id
WHERE a.id = ? AND o.user_id = ? AND o.verified_owner = ?`

	var repo string
	err := s.db.QueryRowContext(ctx, s.rebind(query), appID, userID, true).Scan(&repo)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("%w: app %s owned by %s", catalog.ErrNotFound, appID, userID)
	case err != nil:
		return "", fmt.Errorf("looking up repository of %s: %w", appID, err)
	}
	return repo, nil
}

// RegisterApp records a new app and its owner. Registering an existing app id
// fails with catalog.ErrAlreadyRegistered.
func (s *Store) RegisterApp(ctx context.Context, app catalog.App, owner catalog.Ownership) (err error) {
	if owner.AppID != app.ID {
		return fmt.Errorf("owner is for app %s, not %s", owner.AppID, app.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	switch err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM apps WHERE id = ?`), app.ID).Scan(&exists); {
	case err == nil:
		return fmt.Errorf("%w: %s", catalog.ErrAlreadyRegistered, app.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("checking for app %s: %w", app.ID, err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO apps (id, repository, is_verified, is_published, last_submitted_version, first_seen, last_update) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		app.ID,
		app.Repository,
		app.IsVerified,
		app.IsPublished,
		nullString(app.LastSubmittedVersion),
		nullTime(app.FirstSeen),
		nullTime(app.LastUpdate),
	); err != nil {
		return fmt.Errorf("inserting app %s: %w", app.ID, err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO app_owners (app_id, user_id, verified_owner) VALUES (?, ?, ?)`),
		owner.AppID, owner.UserID, owner.Verified,
	); err != nil {
		return fmt.Errorf("inserting owner of %s: %w", app.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing registration: %w", err)
	}
	return nil
}

// App returns a single catalog row.
func (s *Store) App(ctx context.Context, id string) (catalog.App, error) {
	const query = `SELECT id, repository, is_verified, is_published, last_submitted_version, first_seen, last_update FROM apps WHERE id = ?`

	var (
		app        catalog.App
		version    sql.NullString
		firstSeen  sql.NullTime
		lastUpdate sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&app.ID, &app.Repository, &app.IsVerified, &app.IsPublished, &version, &firstSeen, &lastUpdate,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return catalog.App{}, fmt.Errorf("%w: app %s", catalog.ErrNotFound, id)
	case err != nil:
		return catalog.App{}, fmt.Errorf("reading app %s: %w", id, err)
	}
	app.LastSubmittedVersion = version.String
	if firstSeen.Valid {
		app.FirstSeen = firstSeen.Time.UTC()
	}
	if lastUpdate.Valid {
		app.LastUpdate = lastUpdate.Time.UTC()
	}
	return app, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
