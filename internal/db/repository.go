package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	KeyDeviceID  = "device_id"
	KeyAuthToken = "auth_token"
)

// ExportRecord is one row of the export log.
type ExportRecord struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	ArchiveName string    `json:"archive_name"`
	Format      string    `json:"format"`
	Entries     int       `json:"entries"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

type Repository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	RecordExport(ctx context.Context, projectID, archiveName string, entries int, size int64) error
	RecentExports(ctx context.Context, limit int) ([]ExportRecord, error)
	CountExports(ctx context.Context) (int, error)
}

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// GetSetting returns "" for a missing key.
func (r *SQLiteRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

// RecordExport appends a finished zip archive to the log.
func (r *SQLiteRepository) RecordExport(ctx context.Context, projectID, archiveName string, entries int, size int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO export_log (id, project_id, archive_name, format, entries, size_bytes, created_at)
		VALUES (?, ?, ?, 'zip', ?, ?, ?)
	`, uuid.NewString(), projectID, archiveName, entries, size, r.now().UTC().Format(time.RFC3339Nano))
	return err
}

// RecentExports lists the newest log rows first.
func (r *SQLiteRepository) RecentExports(ctx context.Context, limit int) ([]ExportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, archive_name, format, entries, size_bytes, created_at
		FROM export_log ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		var rec ExportRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.ArchiveName, &rec.Format, &rec.Entries, &rec.SizeBytes, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CountExports(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM export_log").Scan(&n)
	return n, err
}

// EnsureDeviceID returns the stored device id, generating one on first run.
func EnsureDeviceID(ctx context.Context, repo Repository) (string, error) {
	existing, err := repo.GetSetting(ctx, KeyDeviceID)
	if err == nil && existing != "" {
		return existing, nil
	}
	id := uuid.NewString()
	if err := repo.SetSetting(ctx, KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	return id, nil
}

// EnsureAuthToken returns the stored bearer token, generating a random one
// on first run.
func EnsureAuthToken(ctx context.Context, repo Repository) (string, error) {
	existing, err := repo.GetSetting(ctx, KeyAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	if err := repo.SetSetting(ctx, KeyAuthToken, token); err != nil {
		return "", fmt.Errorf("store auth token: %w", err)
	}
	return token, nil
}
