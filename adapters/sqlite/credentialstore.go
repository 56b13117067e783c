package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelpress/pixelpress/domain/credential"
	"github.com/pixelpress/pixelpress/domain/quota"
	"github.com/pixelpress/pixelpress/ports"
)

// CredentialStore implements ports.CredentialStore using SQLite.
// The consume operations rely on conditional UPDATE statements: SQLite
// serializes writers, so the balance check and the decrement are a single
// atomic step and two concurrent reservations can never both win the last
// unit.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore creates a new SQLite credential store.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

const credentialColumns = `id, tenant_id, hash, prefix, name, plan_tier,
	monthly_limit, monthly_used, purchased_credits, reset_at, sandbox,
	active, created_at, last_used_at`

// Get retrieves a credential by ID.
func (s *CredentialStore) Get(ctx context.Context, id string) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials WHERE id = ?
	`, id)
	return scanCredential(row)
}

// GetByPrefix retrieves credentials matching a lookup prefix.
func (s *CredentialStore) GetByPrefix(ctx context.Context, prefix string) ([]credential.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials WHERE prefix = ?
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// Create stores a new credential.
func (s *CredentialStore) Create(ctx context.Context, c credential.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TenantID, c.Hash, c.Prefix, c.Name, c.PlanTier,
		c.MonthlyLimit, c.MonthlyUsed, c.PurchasedCredits, nullTime(timePtr(c.ResetAt)),
		c.Sandbox, c.Active, c.CreatedAt, nullTime(c.LastUsedAt))
	return err
}

// SetActive enables or disables a credential.
func (s *CredentialStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec1(ctx, `UPDATE credentials SET active = ? WHERE id = ?`, active, id)
}

// List returns all credentials.
func (s *CredentialStore) List(ctx context.Context) ([]credential.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// UpdateLastUsed updates the last-used timestamp.
func (s *CredentialStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	return s.exec1(ctx, `UPDATE credentials SET last_used_at = ? WHERE id = ?`, at, id)
}

// ConsumeMonthly atomically takes one unit from the monthly allowance.
// The WHERE clause carries the balance check, so the read and the write
// cannot interleave with another reservation.
func (s *CredentialStore) ConsumeMonthly(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET monthly_used = monthly_used + 1
		WHERE id = ? AND (monthly_limit < 0 OR monthly_used < monthly_limit)
	`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ConsumePurchased atomically takes one unit from the purchased balance.
func (s *CredentialStore) ConsumePurchased(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET purchased_credits = purchased_credits - 1
		WHERE id = ? AND purchased_credits > 0
	`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Refund returns one unit to the given pool.
func (s *CredentialStore) Refund(ctx context.Context, id string, pool quota.Pool) error {
	switch pool {
	case quota.PoolMonthly:
		return s.exec1(ctx, `
			UPDATE credentials
			SET monthly_used = CASE WHEN monthly_used > 0 THEN monthly_used - 1 ELSE 0 END
			WHERE id = ?
		`, id)
	case quota.PoolPurchased:
		return s.exec1(ctx, `
			UPDATE credentials SET purchased_credits = purchased_credits + 1 WHERE id = ?
		`, id)
	default:
		return fmt.Errorf("refund: unknown pool %q", pool)
	}
}

// IncrementUsed unconditionally increments the monthly used count (soft
// enforcement).
func (s *CredentialStore) IncrementUsed(ctx context.Context, id string) error {
	return s.exec1(ctx, `
		UPDATE credentials SET monthly_used = monthly_used + 1 WHERE id = ?
	`, id)
}

// AddPurchasedCredits tops up the purchased balance.
func (s *CredentialStore) AddPurchasedCredits(ctx context.Context, id string, amount int64) error {
	return s.exec1(ctx, `
		UPDATE credentials SET purchased_credits = purchased_credits + ? WHERE id = ?
	`, amount, id)
}

// ResetCycle zeroes the monthly used count and advances the reset
// timestamp. Only applies if the stored reset time has actually elapsed,
// so two concurrent rollovers cannot double-reset.
func (s *CredentialStore) ResetCycle(ctx context.Context, id string, nextReset time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET monthly_used = 0, reset_at = ?
		WHERE id = ? AND (reset_at IS NULL OR reset_at < ?)
	`, nextReset, id, nextReset)
	return err
}

// exec1 runs an update expected to touch exactly one row.
func (s *CredentialStore) exec1(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (credential.Credential, error) {
	var c credential.Credential
	var resetAt, lastUsed sql.NullTime
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Hash, &c.Prefix, &c.Name, &c.PlanTier,
		&c.MonthlyLimit, &c.MonthlyUsed, &c.PurchasedCredits, &resetAt,
		&c.Sandbox, &c.Active, &c.CreatedAt, &lastUsed,
	)
	if err == sql.ErrNoRows {
		return credential.Credential{}, ErrNotFound
	}
	if err != nil {
		return credential.Credential{}, err
	}
	if resetAt.Valid {
		c.ResetAt = resetAt.Time
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		c.LastUsedAt = &t
	}
	return c, nil
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Ensure interface compliance.
var _ ports.CredentialStore = (*CredentialStore)(nil)
