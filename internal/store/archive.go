// Package store persists captured photos to disk with a SQLite index and
// renders them as PDF.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mzyy94/glasscap/internal/postproc"
)

// ErrNotFound is returned when a photo ID is not in the index.
var ErrNotFound = errors.New("photo not found")

// Record is an archived photo's index row.
type Record struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"capturedAt"`
	Bytes      int       `json:"bytes"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Rotation   int       `json:"rotation"`
}

// Archive writes photos as JPEG files under a directory and indexes them in
// photos.db alongside.
type Archive struct {
	dir string
	db  *sql.DB
}

// OpenArchive creates dir if needed and opens (or creates) its index.
func OpenArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "photos.db"))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS photos (
			id           TEXT PRIMARY KEY,
			path         TEXT NOT NULL,
			captured_at  INTEGER NOT NULL,
			bytes        INTEGER NOT NULL,
			width        INTEGER NOT NULL,
			height       INTEGER NOT NULL,
			rotation     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS photos_captured_at ON photos (captured_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	slog.Info("photo archive opened", "dir", dir)
	return &Archive{dir: dir, db: db}, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

// HandlePhoto saves p; it lets an Archive act as a camera sink.
func (a *Archive) HandlePhoto(p postproc.Photo) error {
	_, err := a.Save(context.Background(), p)
	return err
}

// Save writes the JPEG and records it in the index.
func (a *Archive) Save(ctx context.Context, p postproc.Photo) (Record, error) {
	captured := p.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}
	name := fmt.Sprintf("photo_%s_%s.jpg", captured.Format("20060102_150405"), shortID(p.ID))
	path := filepath.Join(a.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, p.Data, 0644); err != nil {
		return Record{}, fmt.Errorf("write photo: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Record{}, fmt.Errorf("write photo: %w", err)
	}

	rec := Record{
		ID:         p.ID,
		Path:       path,
		CapturedAt: captured,
		Bytes:      len(p.Data),
		Width:      p.Width,
		Height:     p.Height,
		Rotation:   int(p.Rotation),
	}
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO photos (id, path, captured_at, bytes, width, height, rotation) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.Path, rec.CapturedAt.UnixNano(), rec.Bytes, rec.Width, rec.Height, rec.Rotation)
	if err != nil {
		return Record{}, fmt.Errorf("index photo %s: %w", p.ID, err)
	}
	slog.Info("photo archived", "id", p.ID, "path", path, "bytes", rec.Bytes)
	return rec, nil
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (a *Archive) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.QueryContext(ctx,
		"SELECT id, path, captured_at, bytes, width, height, rotation FROM photos ORDER BY captured_at DESC, rowid DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get looks up a record by photo ID.
func (a *Archive) Get(ctx context.Context, id string) (Record, error) {
	row := a.db.QueryRowContext(ctx,
		"SELECT id, path, captured_at, bytes, width, height, rotation FROM photos WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Load returns the stored photo with its JPEG bytes.
func (a *Archive) Load(ctx context.Context, id string) (postproc.Photo, error) {
	rec, err := a.Get(ctx, id)
	if err != nil {
		return postproc.Photo{}, err
	}
	data, err := os.ReadFile(rec.Path)
	if err != nil {
		return postproc.Photo{}, fmt.Errorf("read photo %s: %w", id, err)
	}
	return postproc.Photo{
		ID:         rec.ID,
		Data:       data,
		Width:      rec.Width,
		Height:     rec.Height,
		Rotation:   postproc.Rotation(rec.Rotation),
		CapturedAt: rec.CapturedAt,
	}, nil
}

// Close closes the index.
func (a *Archive) Close() error {
	return a.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (Record, error) {
	var rec Record
	var captured int64
	if err := r.Scan(&rec.ID, &rec.Path, &captured, &rec.Bytes, &rec.Width, &rec.Height, &rec.Rotation); err != nil {
		return Record{}, err
	}
	rec.CapturedAt = time.Unix(0, captured)
	return rec, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "nameless"
	}
	return id
}
