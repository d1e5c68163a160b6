package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"comfygit/pkg/models"
)

// NodeMappingRepo caches the registry's node class → candidate package table.
type NodeMappingRepo struct {
	db *sql.DB
}

func NewNodeMappingRepo(db *sql.DB) *NodeMappingRepo {
	return &NodeMappingRepo{db: db}
}

func (r *NodeMappingRepo) Get(nodeType string) (*models.NodeMapping, error) {
	var raw string
	err := r.db.QueryRow(`SELECT package_ids FROM node_mappings WHERE node_type = ?`, nodeType).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, nil
	}
	return &models.NodeMapping{NodeType: nodeType, PackageIDs: ids}, nil
}

func (r *NodeMappingRepo) Put(mapping *models.NodeMapping) error {
	raw, err := json.Marshal(mapping.PackageIDs)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO node_mappings (node_type, package_ids, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(node_type) DO UPDATE SET package_ids = excluded.package_ids, updated_at = excluded.updated_at`,
		mapping.NodeType, string(raw), time.Now().UTC())
	return err
}

// PutAll replaces the mapping table with a freshly fetched registry dump.
func (r *NodeMappingRepo) PutAll(mappings []models.NodeMapping) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, m := range mappings {
		raw, err := json.Marshal(m.PackageIDs)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO node_mappings (node_type, package_ids, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(node_type) DO UPDATE SET package_ids = excluded.package_ids, updated_at = excluded.updated_at`,
			m.NodeType, string(raw), now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
