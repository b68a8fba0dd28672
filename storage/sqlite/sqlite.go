// Package sqlite implements the storage contracts on SQLite. Single-use
// guarantees rely on conditional UPDATE and DELETE statements whose affected
// row count decides the winner.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	_ oauth2.ClientManager               = (*Store)(nil)
	_ oauth2.AuthorizeCodeStorage        = (*Store)(nil)
	_ oauth2.TokenRevocationStorage      = (*Store)(nil)
	_ oauth2.OpenIDConnectRequestStorage = (*Store)(nil)
	_ oauth2.PKCERequestStorage          = (*Store)(nil)
	_ oauth2.ClientAssertionJWTStorage   = (*Store)(nil)
	_ clients.Repo                       = (*Store)(nil)
)

// Record kinds of the requests table.
const (
	kindCode    = "code"
	kindAccess  = "access"
	kindRefresh = "refresh"
	kindPKCE    = "pkce"
	kindOpenID  = "oidc"
)

// Store is the SQLite storage backend.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNowTime sets the clock used for default expiries and assertion checks.
func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens the database at path and applies the bundled migrations.
func Open(path string, options ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range options {
		opt(s)
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies every embedded migration not yet recorded in schema_migrations.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return errors.Wrap(err, "ensure migration table")
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	sort.Strings(files)

	for _, file := range files {
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, file).Scan(&applied); err != nil {
			return errors.Wrapf(err, "check migration %s", file)
		}
		if applied > 0 {
			continue
		}

		content, err := migrations.ReadFile(file)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", file)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin migration")
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "apply migration %s", file)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, file, s.now().Unix()); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "record migration %s", file)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %s", file)
		}
	}
	return nil
}

// Clients

func (s *Store) GetClient(ctx context.Context, id string) (*clients.Client, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM clients WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth2.ErrNotFound.WithHint("Client not found.")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get client")
	}
	var client clients.Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, errors.Wrap(err, "unmarshal client")
	}
	return &client, nil
}

func (s *Store) Upsert(ctx context.Context, client *clients.Client) error {
	data, err := json.Marshal(client)
	if err != nil {
		return errors.Wrap(err, "marshal client")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clients (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		client.ID, data)
	return errors.Wrap(err, "upsert client")
}

func (s *Store) Delete(ctx context.Context, clientID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, clientID)
	if err != nil {
		return errors.Wrap(err, "delete client")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return oauth2.ErrNotFound.WithHint("Client not found.")
	}
	return nil
}

// Authorization codes

func (s *Store) CreateAuthorizeCodeSession(ctx context.Context, signature string, r *oauth2.Request) error {
	return s.create(ctx, kindCode, signature, r, oauth2.AuthorizeCode, storage.DefaultAuthorizeCodeTTL)
}

func (s *Store) GetAuthorizeCodeSession(ctx context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	var (
		data   []byte
		active bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, active FROM requests WHERE kind = ? AND signature = ?`, kindCode, signature).Scan(&data, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth2.ErrNotFound.WithHint("Authorization code not found.")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get authorization code")
	}

	r, err := storage.Unmarshal(ctx, data, s)
	if err != nil {
		return nil, err
	}
	if !active {
		return r, oauth2.ErrInvalidatedAuthorizeCode
	}
	return r, nil
}

// InvalidateAuthorizeCodeSession flips the active flag only if it is still set,
// so exactly one concurrent caller affects a row.
func (s *Store) InvalidateAuthorizeCodeSession(ctx context.Context, signature string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET active = 0 WHERE kind = ? AND signature = ? AND active = 1`, kindCode, signature)
	if err != nil {
		return errors.Wrap(err, "invalidate authorization code")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "invalidate authorization code")
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE kind = ? AND signature = ?`, kindCode, signature).Scan(&exists); err != nil {
		return errors.Wrap(err, "invalidate authorization code")
	}
	if exists == 0 {
		return oauth2.ErrNotFound.WithHint("Authorization code not found.")
	}
	return oauth2.ErrInvalidatedAuthorizeCode
}

// Access tokens

func (s *Store) CreateAccessTokenSession(ctx context.Context, signature string, r *oauth2.Request) error {
	return s.create(ctx, kindAccess, signature, r, oauth2.AccessToken, storage.DefaultAccessTokenTTL)
}

func (s *Store) GetAccessTokenSession(ctx context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	return s.get(ctx, kindAccess, signature)
}

func (s *Store) DeleteAccessTokenSession(ctx context.Context, signature string) error {
	return s.delete(ctx, kindAccess, signature)
}

// Refresh tokens

func (s *Store) CreateRefreshTokenSession(ctx context.Context, signature string, r *oauth2.Request) error {
	return s.create(ctx, kindRefresh, signature, r, oauth2.RefreshToken, storage.DefaultRefreshTokenTTL)
}

func (s *Store) GetRefreshTokenSession(ctx context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	return s.get(ctx, kindRefresh, signature)
}

func (s *Store) DeleteRefreshTokenSession(ctx context.Context, signature string) error {
	return s.delete(ctx, kindRefresh, signature)
}

// Revocation

func (s *Store) RevokeAccessToken(ctx context.Context, requestID string) error {
	return s.revoke(ctx, kindAccess, requestID)
}

func (s *Store) RevokeRefreshToken(ctx context.Context, requestID string) error {
	return s.revoke(ctx, kindRefresh, requestID)
}

// OpenID Connect

func (s *Store) CreateOpenIDConnectSession(ctx context.Context, signature string, r *oauth2.Request) error {
	return s.create(ctx, kindOpenID, signature, r, oauth2.AuthorizeCode, storage.DefaultAuthorizeCodeTTL)
}

func (s *Store) GetOpenIDConnectSession(ctx context.Context, signature string, _ *oauth2.Request) (*oauth2.Request, error) {
	return s.get(ctx, kindOpenID, signature)
}

func (s *Store) DeleteOpenIDConnectSession(ctx context.Context, signature string) error {
	return s.delete(ctx, kindOpenID, signature)
}

// PKCE

func (s *Store) CreatePKCERequestSession(ctx context.Context, signature string, r *oauth2.Request) error {
	return s.create(ctx, kindPKCE, signature, r, oauth2.AuthorizeCode, storage.DefaultAuthorizeCodeTTL)
}

func (s *Store) GetPKCERequestSession(ctx context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	return s.get(ctx, kindPKCE, signature)
}

func (s *Store) DeletePKCERequestSession(ctx context.Context, signature string) error {
	return s.delete(ctx, kindPKCE, signature)
}

// Client assertions

func (s *Store) ClientAssertionJWTValid(ctx context.Context, jti string) error {
	var known int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM client_assertions WHERE jti = ? AND expires_at > ?`, jti, s.now().Unix()).Scan(&known)
	if err != nil {
		return errors.Wrap(err, "check client assertion")
	}
	if known > 0 {
		return oauth2.ErrJTIKnown
	}
	return nil
}

// SetClientAssertionJWT records jti unless an unexpired entry exists.
func (s *Store) SetClientAssertionJWT(ctx context.Context, jti string, exp time.Time) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO client_assertions (jti, expires_at) VALUES (?, ?)
ON CONFLICT(jti) DO UPDATE SET expires_at = excluded.expires_at
WHERE client_assertions.expires_at <= ?`, jti, exp.Unix(), s.now().Unix())
	if err != nil {
		return errors.Wrap(err, "store client assertion")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return oauth2.ErrJTIKnown
	}
	return nil
}

// DeleteExpired removes expired records and returns how many were removed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	requests, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "delete expired requests")
	}
	assertions, err := s.db.ExecContext(ctx, `DELETE FROM client_assertions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "delete expired client assertions")
	}

	r, _ := requests.RowsAffected()
	a, _ := assertions.RowsAffected()
	if r+a > 0 {
		log.Debug().Int64("requests", r).Int64("assertions", a).Msg("sqlite store swept expired records")
	}
	return r + a, nil
}

func (s *Store) create(ctx context.Context, kind, signature string, r *oauth2.Request, tokenType oauth2.TokenType, fallback time.Duration) error {
	data, err := storage.Marshal(r)
	if err != nil {
		return err
	}
	exp := storage.ExpiresAt(r, tokenType, fallback, s.now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (kind, signature, request_id, data, active, expires_at) VALUES (?, ?, ?, ?, 1, ?)`,
		kind, signature, r.ID, data, exp.Unix())
	return errors.Wrapf(err, "store %s", kind)
}

func (s *Store) get(ctx context.Context, kind, signature string) (*oauth2.Request, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM requests WHERE kind = ? AND signature = ?`, kind, signature).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth2.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", kind)
	}
	return storage.Unmarshal(ctx, data, s)
}

// delete succeeds for exactly one caller per signature.
func (s *Store) delete(ctx context.Context, kind, signature string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE kind = ? AND signature = ?`, kind, signature)
	if err != nil {
		return errors.Wrapf(err, "delete %s", kind)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "delete %s", kind)
	}
	if n == 0 {
		return oauth2.ErrNotFound
	}
	return nil
}

func (s *Store) revoke(ctx context.Context, kind, requestID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE kind = ? AND request_id = ?`, kind, requestID)
	if err != nil {
		return errors.Wrapf(err, "revoke %s", kind)
	}
	n, _ := res.RowsAffected()
	log.Debug().Str("request_id", requestID).Int64("count", n).Str("kind", kind).Msg("revoked tokens")
	return nil
}
