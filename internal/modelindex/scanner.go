package modelindex

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"comfygit/internal/db"
	"comfygit/internal/db/repositories"
	"comfygit/internal/logging"
	"comfygit/pkg/models"
)

// Scanner keeps the model index in step with the on-disk pool.
type Scanner struct {
	repos      *repositories.Repositories
	modelsDir  string
	extensions []string
	workers    int
}

// SyncResult summarizes one index sync.
type SyncResult struct {
	Scanned  int
	Added    int
	Updated  int
	Pruned   int
	Skipped  int
	Duration time.Duration
}

func NewScanner(repos *repositories.Repositories, modelsDir string, extensions []string, workers int) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{repos: repos, modelsDir: modelsDir, extensions: extensions, workers: workers}
}

type scannedFile struct {
	relativePath string
	absPath      string
	size         int64
	mtime        time.Time
}

type hashedFile struct {
	scannedFile
	hash string
	err  error
}

// Sync walks the pool, re-hashes new or changed files, and reconciles the
// index in a single write transaction. Unreadable files are logged and
// skipped; a partial scan never leaves orphan rows.
func (s *Scanner) Sync() (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	if _, err := os.Stat(s.modelsDir); err != nil {
		return nil, fmt.Errorf("models directory %s is not accessible: %w", s.modelsDir, err)
	}

	// Phase 1: scan the tree.
	files, err := s.scan()
	if err != nil {
		return nil, err
	}
	result.Scanned = len(files)

	// Phase 2: diff against known locations; hash only new/changed paths.
	known := map[string]*models.ModelLocation{}
	locations, err := s.repos.Models.ListLocations()
	if err != nil {
		return nil, err
	}
	for _, l := range locations {
		known[l.RelativePath] = l
	}

	var unchanged []scannedFile
	var toHash []scannedFile
	for _, f := range files {
		// Re-hash when mtime OR size drifted; mtime alone misses content
		// swaps that preserve timestamps (cp --preserve, touch -r).
		prev, ok := known[f.relativePath]
		if ok && prev.MTime.Equal(f.mtime) && prev.FileSize == f.size {
			unchanged = append(unchanged, f)
			continue
		}
		toHash = append(toHash, f)
	}

	hashed := s.hashAll(toHash)

	// Phase 3: single write transaction.
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	tx, err := s.repos.BeginTx()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC()

	for _, f := range unchanged {
		if err := s.repos.Models.TouchLocation(tx, f.relativePath); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	for _, h := range hashed {
		if h.err != nil {
			logging.Warn("skipping unreadable model file %s: %v", h.relativePath, h.err)
			result.Skipped++
			continue
		}
		model := &models.Model{Hash: h.hash, FileSize: h.size, LastModified: h.mtime.UTC()}
		if err := s.repos.Models.Upsert(tx, model); err != nil {
			tx.Rollback()
			return nil, err
		}
		loc := &models.ModelLocation{
			ModelHash:    h.hash,
			RelativePath: h.relativePath,
			Filename:     filepath.Base(h.relativePath),
			FileSize:     h.size,
			MTime:        h.mtime.UTC(),
		}
		if err := s.repos.Models.UpsertLocation(tx, loc); err != nil {
			tx.Rollback()
			return nil, err
		}
		if _, existed := known[h.relativePath]; existed {
			result.Updated++
		} else {
			result.Added++
		}
	}

	// Prune paths that the walk did not touch.
	if err := s.repos.Models.DeleteLocationsNotSeen(tx, cutoff); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for path := range known {
		found := false
		for _, f := range files {
			if f.relativePath == path {
				found = true
				break
			}
		}
		if !found {
			result.Pruned++
		}
	}

	// Index contents changed; cached resolution results may be stale.
	if result.Added+result.Updated+result.Pruned > 0 {
		if err := s.repos.ResolutionCache.Invalidate(); err != nil {
			logging.Warn("failed to invalidate resolution cache: %v", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (s *Scanner) scan() ([]scannedFile, error) {
	var files []scannedFile
	err := filepath.WalkDir(s.modelsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("skipping unreadable path %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.modelsDir {
				return fs.SkipDir
			}
			return nil
		}
		if !s.isModelFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			logging.Warn("skipping %s: %v", path, err)
			return nil
		}
		rel, err := filepath.Rel(s.modelsDir, path)
		if err != nil {
			return err
		}
		files = append(files, scannedFile{
			relativePath: filepath.ToSlash(rel),
			absPath:      path,
			size:         info.Size(),
			mtime:        info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].relativePath < files[j].relativePath })
	return files, nil
}

func (s *Scanner) isModelFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range s.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// hashAll hashes candidate files on a bounded worker pool. Hashing is the
// only CPU-bound phase, so it is the only parallel one.
func (s *Scanner) hashAll(files []scannedFile) []hashedFile {
	if len(files) == 0 {
		return nil
	}

	jobs := make(chan scannedFile)
	results := make(chan hashedFile, len(files))

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				hash, size, err := QuickHash(f.absPath)
				hf := hashedFile{scannedFile: f, hash: hash, err: err}
				hf.size = size
				if err != nil {
					hf.size = f.size
				}
				results <- hf
			}
		}()
	}

	for _, f := range files {
		jobs <- f
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]hashedFile, 0, len(files))
	for h := range results {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].relativePath < out[j].relativePath })
	return out
}
