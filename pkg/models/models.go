package models

import "time"

// Model is a content-addressed entry in the workspace model index. The hash
// is the quick sampled hash; full hashes are filled lazily as tie-breakers.
type Model struct {
	Hash         string
	FileSize     int64
	Blake3Hash   *string
	SHA256Hash   *string
	Metadata     map[string]interface{}
	IndexedAt    time.Time
	LastModified time.Time
}

// ModelLocation is one physical path owning a model hash. A single hash may
// own many rows (duplicate files in the pool). FileSize is recorded per
// path so the incremental sync can detect content changes that preserve
// mtime.
type ModelLocation struct {
	ID           int64
	ModelHash    string
	RelativePath string
	Filename     string
	FileSize     int64
	MTime        time.Time
	LastSeen     time.Time
}

// Category derives the model category from the first path segment of the
// location's relative path.
func (l *ModelLocation) Category() string {
	for i := 0; i < len(l.RelativePath); i++ {
		if l.RelativePath[i] == '/' {
			return l.RelativePath[:i]
		}
	}
	return ""
}

// ModelSource records a download URL for re-acquisition.
type ModelSource struct {
	ID         int64
	ModelHash  string
	SourceType string
	SourceURL  string
	AddedAt    time.Time
}

// IndexStats summarizes the model index.
type IndexStats struct {
	UniqueModels   int
	TotalLocations int
	Duplicates     int
}

// ModelWithLocations pairs an index entry with every path that owns it.
type ModelWithLocations struct {
	Model     Model
	Locations []ModelLocation
}
