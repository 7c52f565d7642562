package buckets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/dbx"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
)

const bucketColumns = `id, name, description, owner_id, owner_email, collaborators, created_at, updated_at,
	active, file_count, byte_size, legacy_pin, pin_blob, pin_hash, deleted_at, deletion_reason, color, icon`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBucket(row rowScanner) (*models.Bucket, error) {
	var (
		b         models.Bucket
		collab    []byte
		legacy    sql.NullString
		blob      []byte
		hash      []byte
		deletedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID, &b.OwnerEmail, &collab, &b.CreatedAt, &b.UpdatedAt,
		&b.Active, &b.FileCount, &b.ByteSize, &legacy, &blob, &hash, &deletedAt, &b.DeletionReason, &b.Color, &b.Icon)
	if err != nil {
		return nil, err
	}

	if len(collab) > 0 {
		if err := json.Unmarshal(collab, &b.Collaborators); err != nil {
			return nil, fmt.Errorf("decode collaborators: %w", err)
		}
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		b.DeletedAt = &t
	}

	switch {
	case legacy.Valid:
		b.Credential = models.LegacyPlain{Pin: legacy.String}
	case len(blob) > 0 && len(hash) > 0:
		b.Credential = models.Protected{Blob: blob, Hash: hash}
	}

	return &b, nil
}

// credentialArgs splits a credential into the legacy_pin, pin_blob and
// pin_hash column values. Exactly one representation is ever written.
func credentialArgs(c models.Credential) (legacy, blob, hash any, err error) {
	switch v := c.(type) {
	case models.LegacyPlain:
		return v.Pin, nil, nil, nil
	case models.Protected:
		if len(v.Blob) == 0 || len(v.Hash) == 0 {
			return nil, nil, nil, errors.New("incomplete protected credential")
		}
		return nil, v.Blob, v.Hash, nil
	default:
		return nil, nil, nil, errors.New("bucket has no credential")
	}
}

func encodeCollaborators(c []string) (string, error) {
	if c == nil {
		c = []string{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *PostgresRepository) Create(ctx context.Context, b *models.Bucket) (*models.Bucket, error) {
	legacy, blob, hash, err := credentialArgs(b.Credential)
	if err != nil {
		return nil, err
	}
	collab, err := encodeCollaborators(b.Collaborators)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO buckets (name, description, owner_id, owner_email, collaborators, legacy_pin, pin_blob, pin_hash, color, icon)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10)
		RETURNING ` + bucketColumns

	created, err := scanBucket(r.db.QueryRowContext(ctx, query,
		b.Name, b.Description, b.OwnerID, b.OwnerEmail, collab, legacy, blob, hash, b.Color, b.Icon))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

// GetByID returns the bucket regardless of its active flag.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE id = $1`
	b, err := scanBucket(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

// FindActiveByLegacyPin matches plain PINs case-insensitively; rows written
// before normalization may hold lower or mixed case.
func (r *PostgresRepository) FindActiveByLegacyPin(ctx context.Context, pin string) (*models.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM buckets
		WHERE upper(legacy_pin) = $1 AND active
		ORDER BY created_at
		LIMIT 1`
	b, err := scanBucket(r.db.QueryRowContext(ctx, query, strings.ToUpper(pin)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

// PinCandidates pages through active protected buckets in id order. Only the
// verification hash is selected.
func (r *PostgresRepository) PinCandidates(ctx context.Context, afterID string, limit int) ([]models.PinCandidate, error) {
	query := `SELECT id, pin_hash FROM buckets
		WHERE active AND pin_hash IS NOT NULL AND ($1::text = '' OR id > NULLIF($1::text, '')::uuid)
		ORDER BY id
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.PinCandidate
	for rows.Next() {
		var c models.PinCandidate
		if err := rows.Scan(&c.BucketID, &c.Hash); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE owner_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, ownerID)
}

func (r *PostgresRepository) ListByCollaborator(ctx context.Context, email string) ([]*models.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM buckets
		WHERE active AND collaborators @> jsonb_build_array($1::text)
		ORDER BY created_at DESC`
	return r.list(ctx, query, email)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Bucket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// Update applies the non-nil fields of patch to an active bucket.
func (r *PostgresRepository) Update(ctx context.Context, id string, patch models.BucketPatch) (*models.Bucket, error) {
	var collab any
	if patch.Collaborators != nil {
		enc, err := encodeCollaborators(*patch.Collaborators)
		if err != nil {
			return nil, err
		}
		collab = enc
	}

	query := `
		UPDATE buckets SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			collaborators = COALESCE($4::jsonb, collaborators),
			color = COALESCE($5, color),
			icon = COALESCE($6, icon),
			updated_at = now()
		WHERE id = $1 AND active
		RETURNING ` + bucketColumns

	b, err := scanBucket(r.db.QueryRowContext(ctx, query, id,
		nullable(patch.Name), nullable(patch.Description), collab, nullable(patch.Color), nullable(patch.Icon)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

// Deactivate moves an active bucket to Inactive. updated_at is set to at so
// the purge grace period runs from the soft delete.
func (r *PostgresRepository) Deactivate(ctx context.Context, id, reason string, at time.Time) error {
	query := `UPDATE buckets SET active = FALSE, deleted_at = $2, deletion_reason = $3, updated_at = $2
		WHERE id = $1 AND active`
	return r.execOne(ctx, query, id, at, reason)
}

func (r *PostgresRepository) Restore(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE buckets SET active = TRUE, deleted_at = NULL, deletion_reason = '', updated_at = $2
		WHERE id = $1 AND NOT active`
	return r.execOne(ctx, query, id, at)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// RecomputeStats derives file_count and byte_size from the live file set.
// updated_at is left alone: for inactive buckets it starts the grace period.
func (r *PostgresRepository) RecomputeStats(ctx context.Context, id string) (models.UsageTotals, error) {
	query := `
		UPDATE buckets b SET
			file_count = s.files,
			byte_size = s.bytes
		FROM (
			SELECT COUNT(*) AS files, COALESCE(SUM(size), 0) AS bytes
			FROM files WHERE bucket_id = $1 AND active
		) s
		WHERE b.id = $1
		RETURNING b.file_count, b.byte_size`

	var t models.UsageTotals
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&t.Files, &t.Bytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, common.ErrorNotFound
		}
		return t, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) ListExpiredActive(ctx context.Context, createdBefore time.Time) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM buckets WHERE active AND created_at <= $1 ORDER BY created_at`, createdBefore)
}

func (r *PostgresRepository) ListStaleInactive(ctx context.Context, updatedBefore time.Time) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM buckets WHERE NOT active AND updated_at <= $1 ORDER BY updated_at`, updatedBefore)
}

func (r *PostgresRepository) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM buckets WHERE id = $1`, id)
}
