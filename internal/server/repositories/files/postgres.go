package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/dbx"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
)

const fileColumns = `id, bucket_id, name, size, content_type, uploader_id, created_at, storage_key, active, downloads, last_download_at`

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.File, error) {
	var (
		f    models.File
		last sql.NullTime
	)
	err := row.Scan(&f.ID, &f.BucketID, &f.Name, &f.Size, &f.ContentType, &f.UploaderID, &f.CreatedAt,
		&f.StorageKey, &f.Active, &f.Downloads, &last)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		f.LastDownloadAt = &t
	}
	return &f, nil
}

// Create inserts a file record. It is only called once the blob is stored.
func (r *PostgresRepository) Create(ctx context.Context, f *models.File) (*models.File, error) {
	query := `
		INSERT INTO files (bucket_id, name, size, content_type, uploader_id, storage_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + fileColumns

	created, err := scanFile(r.db.QueryRowContext(ctx, query,
		f.BucketID, f.Name, f.Size, f.ContentType, f.UploaderID, f.StorageKey))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) GetActive(ctx context.Context, bucketID, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 AND bucket_id = $2 AND active`
	f, err := scanFile(r.db.QueryRowContext(ctx, query, id, bucketID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, bucketID string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE bucket_id = $1 AND active ORDER BY created_at`
	return r.list(ctx, query, bucketID)
}

// ListAll includes soft-deleted files; purge uses it so no blob is missed.
func (r *PostgresRepository) ListAll(ctx context.Context, bucketID string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE bucket_id = $1 ORDER BY created_at`
	return r.list(ctx, query, bucketID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Rename(ctx context.Context, bucketID, id, name string) error {
	query := `UPDATE files SET name = $3 WHERE id = $1 AND bucket_id = $2 AND active`
	return r.execOne(ctx, query, id, bucketID, name)
}

// Deactivate hides a file from listings ahead of its blob removal.
func (r *PostgresRepository) Deactivate(ctx context.Context, bucketID, id string) error {
	query := `UPDATE files SET active = FALSE WHERE id = $1 AND bucket_id = $2 AND active`
	return r.execOne(ctx, query, id, bucketID)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM files WHERE id = $1`, id)
}

func (r *PostgresRepository) DeleteByBucket(ctx context.Context, bucketID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE bucket_id = $1`, bucketID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
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
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) RecordDownload(ctx context.Context, bucketID, id string, at time.Time) (*models.File, error) {
	query := `
		UPDATE files SET downloads = downloads + 1, last_download_at = $3
		WHERE id = $1 AND bucket_id = $2 AND active
		RETURNING ` + fileColumns

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id, bucketID, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

// ActiveBytesByOwner sums active files across the owner's active buckets.
func (r *PostgresRepository) ActiveBytesByOwner(ctx context.Context, ownerID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(f.size), 0)
		FROM files f
		JOIN buckets b ON b.id = f.bucket_id
		WHERE b.owner_id = $1 AND b.active AND f.active`

	var total int64
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&total); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return total, nil
}
