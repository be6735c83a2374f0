package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/banter/crypto"
	"github.com/onnwee/banter/oauth"
)

// encryption_version values stored in oauth_tokens.
const (
	encPlaintext = 0
	encAESGCM    = 1
)

// ErrEncryptionKeyMissing means a row is encrypted but the store has no keys.
var ErrEncryptionKeyMissing = errors.New("credentials are encrypted but ENCRYPTION_KEY is not configured")

// CredentialStore persists one provider's credentials in oauth_tokens. With a
// nil Keys ring rows are stored in plaintext (encryption_version 0).
type CredentialStore struct {
	DB       *sql.DB
	Provider string
	Keys     *crypto.Keyring
}

// NewCredentialStore returns a store for the twitch provider row.
func NewCredentialStore(db *sql.DB, keys *crypto.Keyring) *CredentialStore {
	if keys == nil {
		slog.Warn("ENCRYPTION_KEY not set, credentials will be stored in plaintext (not recommended for production)", slog.String("component", "db_credentials"))
	}
	return &CredentialStore{DB: db, Provider: "twitch", Keys: keys}
}

var _ oauth.Store = (*CredentialStore)(nil)

// Load returns the stored credentials, or (nil, nil) if the row is absent.
func (s *CredentialStore) Load(ctx context.Context) (*oauth.Credentials, error) {
	var (
		access, refresh, idToken, scope, keyID string
		expires                                sql.NullTime
		version                                int
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, id_token, scope, expires_at, encryption_version, encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, s.Provider).
		Scan(&access, &refresh, &idToken, &scope, &expires, &version, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	if version == encAESGCM {
		if s.Keys == nil {
			return nil, ErrEncryptionKeyMissing
		}
		enc, err := s.Keys.Lookup(keyID)
		if err != nil {
			return nil, err
		}
		if access, err = crypto.OpenString(enc, "access_token", access); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if refresh, err = crypto.OpenString(enc, "refresh_token", refresh); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
		if idToken, err = crypto.OpenString(enc, "id_token", idToken); err != nil {
			return nil, fmt.Errorf("decrypt id token: %w", err)
		}
	}

	c := &oauth.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		IDToken:      idToken,
		Scope:        strings.Fields(scope),
	}
	if expires.Valid {
		c.ExpiresAt = expires.Time
	}
	return c, nil
}

// Save upserts the credentials, sealing secrets with the primary key if configured.
func (s *CredentialStore) Save(ctx context.Context, c *oauth.Credentials) error {
	if c == nil || c.AccessToken == "" {
		return errors.New("refusing to save empty credentials")
	}
	row, err := sealRow(s.Keys, c.AccessToken, c.RefreshToken, c.IDToken)
	if err != nil {
		return err
	}
	var expires sql.NullTime
	if !c.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: c.ExpiresAt, Valid: true}
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO oauth_tokens(provider, access_token, refresh_token, id_token, scope, expires_at, encryption_version, encryption_key_id, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   id_token=EXCLUDED.id_token,
		   scope=EXCLUDED.scope,
		   expires_at=EXCLUDED.expires_at,
		   encryption_version=EXCLUDED.encryption_version,
		   encryption_key_id=EXCLUDED.encryption_key_id,
		   updated_at=NOW()`,
		s.Provider, row.access, row.refresh, row.idToken, strings.Join(c.Scope, " "), expires, row.version, row.keyID)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Delete removes the row; deleting an absent row is not an error.
func (s *CredentialStore) Delete(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider = $1`, s.Provider); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

type sealedRow struct {
	access, refresh, idToken string
	version                  int
	keyID                    string
}

func sealRow(keys *crypto.Keyring, access, refresh, idToken string) (sealedRow, error) {
	if keys == nil {
		return sealedRow{access: access, refresh: refresh, idToken: idToken, version: encPlaintext}, nil
	}
	enc := keys.Primary()
	var (
		r   = sealedRow{version: encAESGCM, keyID: enc.KeyID()}
		err error
	)
	if r.access, err = crypto.SealString(enc, "access_token", access); err != nil {
		return r, fmt.Errorf("encrypt access token: %w", err)
	}
	if r.refresh, err = crypto.SealString(enc, "refresh_token", refresh); err != nil {
		return r, fmt.Errorf("encrypt refresh token: %w", err)
	}
	if r.idToken, err = crypto.SealString(enc, "id_token", idToken); err != nil {
		return r, fmt.Errorf("encrypt id token: %w", err)
	}
	return r, nil
}

// RekeyResult summarises a ReencryptAll run.
type RekeyResult struct {
	Scanned   int
	Rewritten int
}

// ReencryptAll rewrites every row not already sealed with the ring's primary
// key: plaintext rows are encrypted, rows under a retired key are re-sealed.
// With dryRun nothing is written.
func ReencryptAll(ctx context.Context, db *sql.DB, keys *crypto.Keyring, dryRun bool) (RekeyResult, error) {
	var res RekeyResult
	if keys == nil {
		return res, ErrEncryptionKeyMissing
	}
	rows, err := db.QueryContext(ctx, `SELECT provider FROM oauth_tokens ORDER BY provider`)
	if err != nil {
		return res, fmt.Errorf("list providers: %w", err)
	}
	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return res, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, err
	}

	primary := keys.Primary().KeyID()
	for _, p := range providers {
		res.Scanned++
		var (
			version int
			keyID   string
		)
		if err := db.QueryRowContext(ctx,
			`SELECT encryption_version, encryption_key_id FROM oauth_tokens WHERE provider = $1`, p).
			Scan(&version, &keyID); err != nil {
			return res, fmt.Errorf("read %s: %w", p, err)
		}
		if version == encAESGCM && keyID == primary {
			continue
		}
		slog.Info("re-encrypting credentials",
			slog.String("provider", p),
			slog.Int("from_version", version),
			slog.String("from_key", keyID),
			slog.Bool("dry_run", dryRun),
			slog.String("component", "db_credentials"))
		if dryRun {
			res.Rewritten++
			continue
		}
		store := &CredentialStore{DB: db, Provider: p, Keys: keys}
		c, err := store.Load(ctx)
		if err != nil {
			return res, fmt.Errorf("load %s: %w", p, err)
		}
		if c == nil {
			continue
		}
		saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = store.Save(saveCtx, c)
		cancel()
		if err != nil {
			return res, fmt.Errorf("save %s: %w", p, err)
		}
		res.Rewritten++
	}
	return res, nil
}
