package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/filevault/internal/model"
)

// FileRepo stores metadata of uploaded objects in the 'files' table.
type FileRepo struct{ DB *sql.DB }

func NewFileRepo(db *sql.DB) *FileRepo { return &FileRepo{DB: db} }

const fileColumns = "id, owner_id, filename, storage_path, content_type, size, uploaded_at"

func scanFile(row rowScanner) (*model.File, error) {
	var f model.File
	err := row.Scan(&f.ID, &f.OwnerID, &f.Filename, &f.StoragePath, &f.ContentType, &f.Size, &f.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.UploadedAt = f.UploadedAt.UTC()
	return &f, nil
}

// Create inserts f and fills in its ID. UploadedAt defaults to now.
func (r *FileRepo) Create(ctx context.Context, f *model.File) error {
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now()
	}
	f.UploadedAt = dbTime(f.UploadedAt)
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO files (owner_id, filename, storage_path, content_type, size, uploaded_at) VALUES (?,?,?,?,?,?)",
		f.OwnerID, f.Filename, f.StoragePath, f.ContentType, f.Size, f.UploadedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	f.ID = uint64(id)
	return nil
}

// GetByID fetches file metadata by id.
func (r *FileRepo) GetByID(ctx context.Context, id uint64) (*model.File, error) {
	return scanFile(r.DB.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE id=? LIMIT 1", id))
}

// ListByOwner returns one user's files, newest first.
func (r *FileRepo) ListByOwner(ctx context.Context, ownerID uint64, skip, limit int) ([]model.File, error) {
	return r.list(ctx,
		"SELECT "+fileColumns+" FROM files WHERE owner_id=? ORDER BY uploaded_at DESC, id DESC LIMIT ? OFFSET ?",
		ownerID, limit, skip)
}

// ListAll returns every file, newest first.
func (r *FileRepo) ListAll(ctx context.Context, skip, limit int) ([]model.File, error) {
	return r.list(ctx,
		"SELECT "+fileColumns+" FROM files ORDER BY uploaded_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, skip)
}

func (r *FileRepo) list(ctx context.Context, query string, args ...any) ([]model.File, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// UpdateFilename changes the display name only; the storage path is
// immutable.
func (r *FileRepo) UpdateFilename(ctx context.Context, id uint64, filename string) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE files SET filename=? WHERE id=?", filename, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Delete removes the metadata row.
func (r *FileRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM files WHERE id=?", id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
