package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"comfygit/pkg/models"
)

type ModelRepo struct {
	db *sql.DB
}

func NewModelRepo(db *sql.DB) *ModelRepo {
	return &ModelRepo{db: db}
}

func scanModel(row interface{ Scan(...interface{}) error }) (*models.Model, error) {
	var m models.Model
	var blake3Hash, sha256Hash, metadata sql.NullString
	err := row.Scan(&m.Hash, &m.FileSize, &blake3Hash, &sha256Hash, &metadata, &m.IndexedAt, &m.LastModified)
	if err != nil {
		return nil, err
	}
	if blake3Hash.Valid {
		m.Blake3Hash = &blake3Hash.String
	}
	if sha256Hash.Valid {
		m.SHA256Hash = &sha256Hash.String
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for model %s: %w", m.Hash, err)
		}
	}
	return &m, nil
}

const modelColumns = `hash, file_size, blake3_hash, sha256_hash, metadata, indexed_at, last_modified`

// Upsert inserts or refreshes a model row.
func (r *ModelRepo) Upsert(tx *sql.Tx, m *models.Model) error {
	var metadata interface{}
	if m.Metadata != nil {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return err
		}
		metadata = string(raw)
	}
	_, err := tx.Exec(`
		INSERT INTO models (hash, file_size, blake3_hash, sha256_hash, metadata, indexed_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			file_size = excluded.file_size,
			last_modified = excluded.last_modified`,
		m.Hash, m.FileSize, m.Blake3Hash, m.SHA256Hash, metadata, time.Now().UTC(), m.LastModified)
	return err
}

// SetFullHashes records full-file hashes used as collision tie-breakers.
func (r *ModelRepo) SetFullHashes(hash string, blake3Hash, sha256Hash *string) error {
	_, err := r.db.Exec(`UPDATE models SET blake3_hash = COALESCE(?, blake3_hash), sha256_hash = COALESCE(?, sha256_hash) WHERE hash = ?`,
		blake3Hash, sha256Hash, hash)
	return err
}

// GetByHash returns the model with the exact hash, or nil.
func (r *ModelRepo) GetByHash(hash string) (*models.Model, error) {
	row := r.db.QueryRow(`SELECT `+modelColumns+` FROM models WHERE hash = ?`, hash)
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// FindByHashPrefix returns models whose hash starts with the given prefix.
func (r *ModelRepo) FindByHashPrefix(prefix string) ([]*models.Model, error) {
	rows, err := r.db.Query(`SELECT `+modelColumns+` FROM models WHERE hash LIKE ? ESCAPE '\' ORDER BY hash`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectModels(rows)
}

func collectModels(rows *sql.Rows) ([]*models.Model, error) {
	var out []*models.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// escapeLike escapes LIKE metacharacters in user-supplied terms.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func scanLocation(rows interface{ Scan(...interface{}) error }) (*models.ModelLocation, error) {
	var l models.ModelLocation
	if err := rows.Scan(&l.ID, &l.ModelHash, &l.RelativePath, &l.Filename, &l.FileSize, &l.MTime, &l.LastSeen); err != nil {
		return nil, err
	}
	return &l, nil
}

const locationColumns = `id, model_hash, relative_path, filename, file_size, mtime, last_seen`

// UpsertLocation inserts or refreshes a physical path row.
func (r *ModelRepo) UpsertLocation(tx *sql.Tx, l *models.ModelLocation) error {
	_, err := tx.Exec(`
		INSERT INTO model_locations (model_hash, relative_path, filename, file_size, mtime, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(relative_path) DO UPDATE SET
			model_hash = excluded.model_hash,
			filename = excluded.filename,
			file_size = excluded.file_size,
			mtime = excluded.mtime,
			last_seen = excluded.last_seen`,
		l.ModelHash, l.RelativePath, l.Filename, l.FileSize, l.MTime, time.Now().UTC())
	return err
}

// TouchLocation refreshes last_seen for an unchanged path.
func (r *ModelRepo) TouchLocation(tx *sql.Tx, relativePath string) error {
	_, err := tx.Exec(`UPDATE model_locations SET last_seen = ? WHERE relative_path = ?`, time.Now().UTC(), relativePath)
	return err
}

// DeleteLocationsNotSeen prunes rows for paths no longer on disk, then
// removes models that lost their last location.
func (r *ModelRepo) DeleteLocationsNotSeen(tx *sql.Tx, cutoff time.Time) error {
	if _, err := tx.Exec(`DELETE FROM model_locations WHERE last_seen < ?`, cutoff); err != nil {
		return err
	}
	_, err := tx.Exec(`DELETE FROM models WHERE hash NOT IN (SELECT DISTINCT model_hash FROM model_locations)`)
	return err
}

// ListLocations returns all known paths, ordered by relative path.
func (r *ModelRepo) ListLocations() ([]*models.ModelLocation, error) {
	rows, err := r.db.Query(`SELECT ` + locationColumns + ` FROM model_locations ORDER BY relative_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

// LocationsByHash returns every path owning a model hash.
func (r *ModelRepo) LocationsByHash(hash string) ([]*models.ModelLocation, error) {
	rows, err := r.db.Query(`SELECT `+locationColumns+` FROM model_locations WHERE model_hash = ? ORDER BY relative_path`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

// FindByExactPath returns the location at the exact relative path, or nil.
func (r *ModelRepo) FindByExactPath(relativePath string) (*models.ModelLocation, error) {
	row := r.db.QueryRow(`SELECT `+locationColumns+` FROM model_locations WHERE relative_path = ?`, relativePath)
	l, err := scanLocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// FindByFilename returns locations whose filename contains the substring.
func (r *ModelRepo) FindByFilename(substring string) ([]*models.ModelLocation, error) {
	rows, err := r.db.Query(`SELECT `+locationColumns+` FROM model_locations WHERE filename LIKE ? ESCAPE '\' ORDER BY relative_path`,
		"%"+escapeLike(substring)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

// Search matches the term against filename or relative path.
func (r *ModelRepo) Search(term string) ([]*models.ModelLocation, error) {
	pattern := "%" + escapeLike(term) + "%"
	rows, err := r.db.Query(`SELECT `+locationColumns+` FROM model_locations
		WHERE filename LIKE ? ESCAPE '\' OR relative_path LIKE ? ESCAPE '\'
		ORDER BY relative_path`, pattern, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

// GetByCategory returns locations whose first path segment equals category.
func (r *ModelRepo) GetByCategory(category string) ([]*models.ModelLocation, error) {
	rows, err := r.db.Query(`SELECT `+locationColumns+` FROM model_locations WHERE relative_path LIKE ? ESCAPE '\' ORDER BY relative_path`,
		escapeLike(category)+"/%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

func collectLocations(rows *sql.Rows) ([]*models.ModelLocation, error) {
	var out []*models.ModelLocation
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AddSource records a download URL; idempotent on (hash, url).
func (r *ModelRepo) AddSource(hash, sourceType, sourceURL string) error {
	_, err := r.db.Exec(`
		INSERT INTO model_sources (model_hash, source_type, source_url)
		VALUES (?, ?, ?)
		ON CONFLICT(model_hash, source_url) DO NOTHING`,
		hash, sourceType, sourceURL)
	return err
}

// SourcesByHash returns the known download URLs for a model.
func (r *ModelRepo) SourcesByHash(hash string) ([]*models.ModelSource, error) {
	rows, err := r.db.Query(`SELECT id, model_hash, source_type, source_url, added_at FROM model_sources WHERE model_hash = ? ORDER BY added_at`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ModelSource
	for rows.Next() {
		var s models.ModelSource
		if err := rows.Scan(&s.ID, &s.ModelHash, &s.SourceType, &s.SourceURL, &s.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Stats summarizes the index.
func (r *ModelRepo) Stats() (*models.IndexStats, error) {
	var stats models.IndexStats
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM models`).Scan(&stats.UniqueModels); err != nil {
		return nil, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM model_locations`).Scan(&stats.TotalLocations); err != nil {
		return nil, err
	}
	if err := r.db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT model_hash FROM model_locations GROUP BY model_hash HAVING COUNT(*) > 1
		)`).Scan(&stats.Duplicates); err != nil {
		return nil, err
	}
	return &stats, nil
}
