package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prsentry/prsentry/internal/models"
)

// FSStore persists artifacts as JSON files, one directory per run:
//
//	<root>/<run_id>/risk_report.json
//	<root>/<run_id>/run.json
//	<root>/<run_id>/batch_<i>/<stage>_attempt_<n>.json
//	<root>/<run_id>/batch_<i>/fix_attempt_<n>.json
//	<root>/<run_id>/<blob name>
//
// Every record is written to a temp file and renamed into place, so a
// record is either fully present or absent. A per-key mutex serializes
// concurrent stage writers; two writers never interleave within one record.
type FSStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFSStore creates a filesystem store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact root %s: %w", dir, err)
	}
	return &FSStore{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the store's root directory.
func (s *FSStore) Root() string { return s.root }

// RunDir returns the directory holding one run's artifacts.
func (s *FSStore) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *FSStore) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *FSStore) batchDir(runID string, batchIndex int) string {
	return filepath.Join(s.root, runID, fmt.Sprintf("batch_%d", batchIndex))
}

func stageFile(stage string, attempt int) string {
	return fmt.Sprintf("%s_attempt_%d.json", stage, attempt)
}

// writeJSON writes v atomically: temp file in the target dir, then rename.
func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create artifact dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename artifact into place: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// WriteStageResult appends one attempt record.
func (s *FSStore) WriteStageResult(_ context.Context, result models.StageResult) error {
	key := fmt.Sprintf("%s/%d/%s", result.RunID, result.BatchIndex, result.StageName)
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.batchDir(result.RunID, result.BatchIndex), stageFile(result.StageName, result.Attempt))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s attempt %d", ErrConflict, result.StageName, result.Attempt)
	}
	return writeJSON(path, result)
}

// ReadLatest returns the highest-numbered attempt for the key.
func (s *FSStore) ReadLatest(ctx context.Context, runID string, batchIndex int, stage string) (models.StageResult, error) {
	attempts, err := s.ReadAttempts(ctx, runID, batchIndex, stage)
	if err != nil {
		return models.StageResult{}, err
	}
	if len(attempts) == 0 {
		return models.StageResult{}, ErrNotFound
	}
	return attempts[len(attempts)-1], nil
}

// ReadAttempts returns all attempts for the key in attempt order.
func (s *FSStore) ReadAttempts(_ context.Context, runID string, batchIndex int, stage string) ([]models.StageResult, error) {
	dir := s.batchDir(runID, batchIndex)
	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%s_attempt_*.json", stage)))
	if err != nil {
		return nil, err
	}

	var results []models.StageResult
	for _, m := range matches {
		var res models.StageResult
		if err := readJSON(m, &res); err != nil {
			return nil, fmt.Errorf("read attempt %s: %w", m, err)
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Attempt < results[j].Attempt })
	return results, nil
}

// WriteFixResult appends one fix attempt record.
func (s *FSStore) WriteFixResult(_ context.Context, result models.FixResult) error {
	key := fmt.Sprintf("%s/%d/fix", result.RunID, result.BatchIndex)
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.batchDir(result.RunID, result.BatchIndex), fmt.Sprintf("fix_attempt_%d.json", result.Attempt))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: fix attempt %d", ErrConflict, result.Attempt)
	}
	return writeJSON(path, result)
}

// WriteRiskReport persists the run's risk report.
func (s *FSStore) WriteRiskReport(_ context.Context, report models.RiskReport) error {
	return writeJSON(filepath.Join(s.RunDir(report.RunID), "risk_report.json"), report)
}

// ReadRiskReport returns the run's risk report.
func (s *FSStore) ReadRiskReport(_ context.Context, runID string) (models.RiskReport, error) {
	var report models.RiskReport
	err := readJSON(filepath.Join(s.RunDir(runID), "risk_report.json"), &report)
	return report, err
}

// WriteRunStatus persists the run status record.
func (s *FSStore) WriteRunStatus(_ context.Context, status models.RunStatus) error {
	return writeJSON(filepath.Join(s.RunDir(status.RunID), "run.json"), status)
}

// ReadRunStatus returns the run status record.
func (s *FSStore) ReadRunStatus(_ context.Context, runID string) (models.RunStatus, error) {
	var status models.RunStatus
	err := readJSON(filepath.Join(s.RunDir(runID), "run.json"), &status)
	return status, err
}

// WriteBlob stores a named auxiliary artifact under the run directory.
func (s *FSStore) WriteBlob(_ context.Context, runID, name string, data []byte) error {
	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}

// ListRuns returns the status records of every run under the root, most
// recently started first.
func (s *FSStore) ListRuns(ctx context.Context) ([]models.RunStatus, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var runs []models.RunStatus
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		status, err := s.ReadRunStatus(ctx, e.Name())
		if err != nil {
			continue // run without a status record yet
		}
		runs = append(runs, status)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}

// Close is a no-op for the filesystem store.
func (s *FSStore) Close() error { return nil }
