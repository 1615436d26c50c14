package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"socialpublish/internal/apperr"
)

type Store interface {
	Upsert(ctx context.Context, userID string, cred Credential) (string, error)
	GetByUser(ctx context.Context, userID string) (*Credential, error)
	GetCredential(ctx context.Context, integrationID string) (*Credential, error)
	UpdateToken(ctx context.Context, integrationID, accessToken, tokenType string, expiresAt *time.Time) error
	ListExpiring(ctx context.Context, after, before time.Time, limit int) ([]Credential, error)
	Delete(ctx context.Context, userID string) error
}

const (
	upsertIntegrationQuery = `INSERT INTO integrations (user_id, provider, status, connected_at) VALUES ($1, $2, 'connected', NOW()) ON CONFLICT (user_id, provider) DO UPDATE SET status = 'connected', connected_at = EXCLUDED.connected_at, updated_at = NOW() RETURNING id`

	upsertCredentialQuery = `INSERT INTO integration_credentials (integration_id, access_token, token_type, expires_at, page_id, page_name, account_id, username) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (integration_id) DO UPDATE SET access_token = EXCLUDED.access_token, token_type = EXCLUDED.token_type, expires_at = EXCLUDED.expires_at, page_id = EXCLUDED.page_id, page_name = EXCLUDED.page_name, account_id = EXCLUDED.account_id, username = EXCLUDED.username, updated_at = NOW()`

	selectCredential = `SELECT i.id, i.user_id, c.access_token, c.token_type, c.expires_at, c.page_id, c.page_name, c.account_id, c.username FROM integrations i JOIN integration_credentials c ON c.integration_id = i.id`

	getByUserQuery = selectCredential + ` WHERE i.user_id = $1 AND i.provider = $2 ORDER BY i.created_at DESC LIMIT 1`

	getCredentialQuery = selectCredential + ` WHERE i.id = $1`

	listExpiringQuery = selectCredential + ` WHERE c.expires_at > $1 AND c.expires_at <= $2 ORDER BY c.expires_at ASC LIMIT $3`

	updateTokenQuery = `UPDATE integration_credentials SET access_token = $2, token_type = $3, expires_at = $4, updated_at = NOW() WHERE integration_id = $1`

	deleteQuery = `DELETE FROM integrations WHERE user_id = $1 AND provider = $2`
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Upsert writes the integration and its credential in one transaction and
// returns the integration id.
func (r *PostgresRepo) Upsert(ctx context.Context, userID string, cred Credential) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var id string
	if err := tx.QueryRowContext(ctx, upsertIntegrationQuery, userID, ProviderInstagram).Scan(&id); err != nil {
		return "", fmt.Errorf("upsert integration: %w", err)
	}

	_, err = tx.ExecContext(ctx, upsertCredentialQuery,
		id,
		cred.AccessToken,
		nullString(cred.TokenType),
		nullTime(cred.ExpiresAt),
		nullString(cred.PageID),
		nullString(cred.PageName),
		cred.AccountID,
		nullString(cred.Username),
	)
	if err != nil {
		return "", fmt.Errorf("upsert credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func (r *PostgresRepo) GetByUser(ctx context.Context, userID string) (*Credential, error) {
	return scanCredential(r.db.QueryRowContext(ctx, getByUserQuery, userID, ProviderInstagram))
}

func (r *PostgresRepo) GetCredential(ctx context.Context, integrationID string) (*Credential, error) {
	return scanCredential(r.db.QueryRowContext(ctx, getCredentialQuery, integrationID))
}

func (r *PostgresRepo) UpdateToken(ctx context.Context, integrationID, accessToken, tokenType string, expiresAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, updateTokenQuery, integrationID, accessToken, nullString(tokenType), nullTime(expiresAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ListExpiring returns credentials expiring after after and at or before
// before, soonest first. Already expired tokens cannot be refreshed, so they
// stay out of the batch.
func (r *PostgresRepo) ListExpiring(ctx context.Context, after, before time.Time, limit int) ([]Credential, error) {
	rows, err := r.db.QueryContext(ctx, listExpiringQuery, after, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

func (r *PostgresRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, deleteQuery, userID, ProviderInstagram)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*Credential, error) {
	var (
		c                                     Credential
		tokenType, pageID, pageName, username sql.NullString
		expiresAt                             sql.NullTime
	)
	err := row.Scan(&c.IntegrationID, &c.UserID, &c.AccessToken, &tokenType, &expiresAt, &pageID, &pageName, &c.AccountID, &username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.TokenType = tokenType.String
	c.PageID = pageID.String
	c.PageName = pageName.String
	c.Username = username.String
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		c.ExpiresAt = &t
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
