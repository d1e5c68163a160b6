package sources

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"comfygit/internal/logging"
)

// APICache is a file-backed JSON cache for external API responses, stored
// under the workspace cache directory.
type APICache struct {
	dir string
	ttl time.Duration
}

func NewAPICache(dir string, ttl time.Duration) *APICache {
	return &APICache{dir: dir, ttl: ttl}
}

type cacheEnvelope struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

func (c *APICache) pathFor(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get loads a fresh cache entry into out, reporting whether it hit.
func (c *APICache) Get(key string, out interface{}) bool {
	raw, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		return false
	}
	var envelope cacheEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return false
	}
	if time.Since(envelope.FetchedAt) > c.ttl {
		return false
	}
	return json.Unmarshal(envelope.Payload, out) == nil
}

// Put stores a cache entry; failures are logged, never fatal.
func (c *APICache) Put(key string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	envelope := cacheEnvelope{FetchedAt: time.Now().UTC(), Payload: raw}
	data, err := json.Marshal(&envelope)
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		logging.Debug("api cache mkdir failed: %v", err)
		return
	}
	if err := os.WriteFile(c.pathFor(key), data, 0644); err != nil {
		logging.Debug("api cache write failed: %v", err)
	}
}
