package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/scraperd/scraperd/internal/scraper"
)

var validJobID = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// FSStore writes one <job_id>.json file per result.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem-backed store rooted at baseDir,
// creating the directory if needed and verifying it is writable.
func NewFSStore(baseDir string) (*FSStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(baseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}

	testFile := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &FSStore{baseDir: baseDir}, nil
}

// Write persists the result as JSON. A temp file plus rename keeps
// readers from ever observing a partial document.
func (s *FSStore) Write(_ context.Context, result scraper.Result) error {
	path, err := s.pathFor(result.JobID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("result for job %s already written", result.JobID)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tmp, err := os.CreateTemp(s.baseDir, result.JobID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp result file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write result file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close result file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename result file: %w", err)
	}
	return nil
}

// Read loads and decodes the result for the job id.
func (s *FSStore) Read(_ context.Context, jobID string) (scraper.Result, error) {
	path, err := s.pathFor(jobID)
	if err != nil {
		return scraper.Result{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return scraper.Result{}, scraper.ErrNotFound
		}
		return scraper.Result{}, fmt.Errorf("read result file: %w", err)
	}
	var result scraper.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return scraper.Result{}, fmt.Errorf("decode result file: %w", err)
	}
	return result, nil
}

// Delete removes a result file, used by retention sweeps.
func (s *FSStore) Delete(_ context.Context, jobID string) error {
	path, err := s.pathFor(jobID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove result file: %w", err)
	}
	return nil
}

func (s *FSStore) pathFor(jobID string) (string, error) {
	if jobID == "" || !validJobID.MatchString(jobID) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return filepath.Join(s.baseDir, jobID+".json"), nil
}
