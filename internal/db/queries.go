package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"utilitysign/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no row matches
var ErrNotFound = errors.New("record not found")

// Queries wraps database queries
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

// SigningRecord represents a signing_requests row
type SigningRecord struct {
	ID              string
	WorkflowID      string
	DocumentID      string
	SignerEmail     string
	SignerName      string
	Status          string
	IdempotencyKey  string
	BankIDSessionID *string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

const signingColumns = `id, workflow_id, document_id, signer_email, signer_name, status,
	idempotency_key, bankid_session_id, created_at, expires_at, completed_at, updated_at`

func scanSigningRecord(row pgx.Row) (SigningRecord, error) {
	var r SigningRecord
	err := row.Scan(
		&r.ID, &r.WorkflowID, &r.DocumentID, &r.SignerEmail, &r.SignerName, &r.Status,
		&r.IdempotencyKey, &r.BankIDSessionID, &r.CreatedAt, &r.ExpiresAt, &r.CompletedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

// SaveSigningRequest inserts or refreshes the record of req
func (q *Queries) SaveSigningRequest(ctx context.Context, workflowID string, req *model.SigningRequest) error {
	var session *string
	if req.BankIDSessionID != "" {
		session = &req.BankIDSessionID
	}
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO signing_requests (
			id, workflow_id, document_id, signer_email, signer_name, status,
			idempotency_key, bankid_session_id, created_at, expires_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			bankid_session_id = EXCLUDED.bankid_session_id,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()`,
		req.ID, workflowID, req.DocumentID, req.SignerEmail, req.SignerName, string(req.Status),
		req.IdempotencyKey, session, req.CreatedAt, req.ExpiresAt, req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save signing request: %w", err)
	}
	return nil
}

// UpdateSigningStatus moves an open record to status. Terminal records are
// left untouched.
func (q *Queries) UpdateSigningStatus(ctx context.Context, id string, status model.Status, completedAt *time.Time) error {
	_, err := q.Pool.Exec(ctx,
		`UPDATE signing_requests
		SET status = $2, completed_at = COALESCE($3, completed_at), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'in_progress')`,
		id, string(status), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update signing status: %w", err)
	}
	return nil
}

// ExpireSigningRequest marks the record expired if it is still open and its
// expiry has passed. It reports whether the row changed.
func (q *Queries) ExpireSigningRequest(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := q.Pool.Exec(ctx,
		`UPDATE signing_requests
		SET status = 'expired', bankid_session_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'in_progress') AND expires_at <= $2`,
		id, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to expire signing request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) GetSigningRequest(ctx context.Context, id string) (SigningRecord, error) {
	return scanSigningRecord(q.Pool.QueryRow(ctx,
		"SELECT "+signingColumns+" FROM signing_requests WHERE id = $1", id))
}

func (q *Queries) ListSigningRequestsByWorkflow(ctx context.Context, workflowID string) ([]SigningRecord, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT "+signingColumns+" FROM signing_requests WHERE workflow_id = $1 ORDER BY created_at DESC",
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SigningRecord
	for rows.Next() {
		r, err := scanSigningRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
