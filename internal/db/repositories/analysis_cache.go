package repositories

import (
	"database/sql"
	"encoding/json"

	"comfygit/pkg/models"
)

// AnalysisCacheRepo caches workflow analyzer output keyed by the normalized
// content hash, so a cache hit is a direct deserialization.
type AnalysisCacheRepo struct {
	db *sql.DB
}

func NewAnalysisCacheRepo(db *sql.DB) *AnalysisCacheRepo {
	return &AnalysisCacheRepo{db: db}
}

func (r *AnalysisCacheRepo) Get(contentHash string) (*models.WorkflowAnalysis, error) {
	var raw string
	err := r.db.QueryRow(`SELECT analysis FROM workflow_analysis_cache WHERE content_hash = ?`, contentHash).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var analysis models.WorkflowAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		// A corrupt row behaves like a miss; the analyzer re-derives it.
		return nil, nil
	}
	return &analysis, nil
}

func (r *AnalysisCacheRepo) Put(analysis *models.WorkflowAnalysis) error {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO workflow_analysis_cache (content_hash, analysis)
		VALUES (?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET analysis = excluded.analysis`,
		analysis.ContentHash, string(raw))
	return err
}
