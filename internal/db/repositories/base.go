package repositories

import (
	"database/sql"

	"comfygit/internal/db"
)

type Repositories struct {
	Models          *ModelRepo
	AnalysisCache   *AnalysisCacheRepo
	NodeMappings    *NodeMappingRepo
	ResolutionCache *ResolutionCacheRepo

	db db.Database // kept for transactions
}

func New(database db.Database) *Repositories {
	conn := database.Conn()

	return &Repositories{
		Models:          NewModelRepo(conn),
		AnalysisCache:   NewAnalysisCacheRepo(conn),
		NodeMappings:    NewNodeMappingRepo(conn),
		ResolutionCache: NewResolutionCacheRepo(conn),
		db:              database,
	}
}

// BeginTx starts a database transaction
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.db.Conn().Begin()
}
