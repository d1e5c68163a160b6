package modelindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfygit/internal/db"
	"comfygit/internal/db/repositories"
)

func newTestScanner(t *testing.T) (*Scanner, *repositories.Repositories, string) {
	t.Helper()
	database, err := db.NewTest(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	repos := repositories.New(database)
	modelsDir := t.TempDir()
	scanner := NewScanner(repos, modelsDir, []string{".safetensors", ".ckpt"}, 2)
	return scanner, repos, modelsDir
}

func TestSyncIndexesNewFiles(t *testing.T) {
	scanner, repos, modelsDir := newTestScanner(t)

	writeFile(t, filepath.Join(modelsDir, "checkpoints", "photon.safetensors"), []byte("photon weights"))
	writeFile(t, filepath.Join(modelsDir, "loras", "detail.safetensors"), []byte("lora weights"))
	writeFile(t, filepath.Join(modelsDir, "notes.txt"), []byte("not a model"))

	result, err := scanner.Sync()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Added)

	stats, err := repos.Models.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UniqueModels)
	assert.Equal(t, 2, stats.TotalLocations)

	loc, err := repos.Models.FindByExactPath("checkpoints/photon.safetensors")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "checkpoints", loc.Category())
}

func TestSyncDetectsDuplicates(t *testing.T) {
	scanner, repos, modelsDir := newTestScanner(t)

	payload := []byte("identical weights")
	writeFile(t, filepath.Join(modelsDir, "checkpoints", "a.safetensors"), payload)
	writeFile(t, filepath.Join(modelsDir, "checkpoints", "copy-of-a.safetensors"), payload)

	_, err := scanner.Sync()
	require.NoError(t, err)

	stats, err := repos.Models.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UniqueModels)
	assert.Equal(t, 2, stats.TotalLocations)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestSyncPrunesDeletedFiles(t *testing.T) {
	scanner, repos, modelsDir := newTestScanner(t)

	path := filepath.Join(modelsDir, "vae", "gone.ckpt")
	writeFile(t, path, []byte("vae weights"))
	_, err := scanner.Sync()
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	result, err := scanner.Sync()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pruned)

	stats, err := repos.Models.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.UniqueModels, "models with no surviving location are dropped")
}

func TestSyncKeepsModelWhenOneLocationSurvives(t *testing.T) {
	scanner, repos, modelsDir := newTestScanner(t)

	payload := []byte("shared weights")
	keep := filepath.Join(modelsDir, "checkpoints", "keep.safetensors")
	gone := filepath.Join(modelsDir, "checkpoints", "gone.safetensors")
	writeFile(t, keep, payload)
	writeFile(t, gone, payload)
	_, err := scanner.Sync()
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone))
	_, err = scanner.Sync()
	require.NoError(t, err)

	stats, err := repos.Models.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UniqueModels)
	assert.Equal(t, 1, stats.TotalLocations)
}

func TestSyncRehashesWhenSizeChangesButMtimeDoesNot(t *testing.T) {
	scanner, repos, modelsDir := newTestScanner(t)

	path := filepath.Join(modelsDir, "checkpoints", "swapped.safetensors")
	writeFile(t, path, []byte("original payload"))
	_, err := scanner.Sync()
	require.NoError(t, err)

	before, err := repos.Models.FindByExactPath("checkpoints/swapped.safetensors")
	require.NoError(t, err)
	require.NotNil(t, before)

	// Swap the content but pin the old timestamp, the way cp --preserve
	// or touch -r would.
	info, err := os.Stat(path)
	require.NoError(t, err)
	writeFile(t, path, []byte("replacement payload, different length"))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	result, err := scanner.Sync()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated, "size drift alone must trigger a re-hash")

	after, err := repos.Models.FindByExactPath("checkpoints/swapped.safetensors")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.NotEqual(t, before.ModelHash, after.ModelHash)
	assert.Equal(t, int64(len("replacement payload, different length")), after.FileSize)
}

func TestSyncMoveRehashesToSameModel(t *testing.T) {
	scanner, repos, modelsDir := newTestScanner(t)

	old := filepath.Join(modelsDir, "checkpoints", "old-name.safetensors")
	writeFile(t, old, []byte("stable payload"))
	_, err := scanner.Sync()
	require.NoError(t, err)

	locBefore, err := repos.Models.FindByExactPath("checkpoints/old-name.safetensors")
	require.NoError(t, err)
	require.NotNil(t, locBefore)

	renamed := filepath.Join(modelsDir, "checkpoints", "new-name.safetensors")
	require.NoError(t, os.Rename(old, renamed))
	// Renames keep content but the path is new, so the file is re-hashed.
	now := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(renamed, now, now))

	_, err = scanner.Sync()
	require.NoError(t, err)

	locAfter, err := repos.Models.FindByExactPath("checkpoints/new-name.safetensors")
	require.NoError(t, err)
	require.NotNil(t, locAfter)
	assert.Equal(t, locBefore.ModelHash, locAfter.ModelHash, "quick hash survives the move")

	stats, err := repos.Models.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UniqueModels)
}
