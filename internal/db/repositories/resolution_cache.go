package repositories

import (
	"database/sql"
)

// ResolutionCacheRepo stores per-workflow resolution results keyed by the
// combined (workflow hash, manifest slice hash, index subset hash) key.
type ResolutionCacheRepo struct {
	db *sql.DB
}

func NewResolutionCacheRepo(db *sql.DB) *ResolutionCacheRepo {
	return &ResolutionCacheRepo{db: db}
}

func (r *ResolutionCacheRepo) Get(cacheKey string) ([]byte, error) {
	var raw []byte
	err := r.db.QueryRow(`SELECT result FROM resolution_cache WHERE cache_key = ?`, cacheKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return raw, err
}

func (r *ResolutionCacheRepo) Put(cacheKey string, result []byte) error {
	_, err := r.db.Exec(`
		INSERT INTO resolution_cache (cache_key, result)
		VALUES (?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET result = excluded.result`,
		cacheKey, result)
	return err
}

// Invalidate drops every cached result. Cheap and safe after index syncs.
func (r *ResolutionCacheRepo) Invalidate() error {
	_, err := r.db.Exec(`DELETE FROM resolution_cache`)
	return err
}
