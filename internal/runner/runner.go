// Package runner drives feature extraction over one file or a directory
// tree, producing a JSON-serializable report. Per-file failures never
// abort a batch; they are recorded in place with an error kind.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wisdark/capa/internal/backend"
	"github.com/wisdark/capa/internal/extractor"
	"github.com/wisdark/capa/internal/workspace"
)

// ErrorKind buckets per-file failures for downstream triage.
type ErrorKind string

const (
	ErrorUnsupportedFormat  ErrorKind = "unsupported format"
	ErrorUnsupportedRuntime ErrorKind = "unsupported runtime"
	ErrorUnexpected         ErrorKind = "unexpected"
)

// FileError describes why one file could not be analyzed.
type FileError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// LocatedFeature is one extracted feature and the address it was observed
// at, both rendered in their canonical forms.
type LocatedFeature struct {
	Address string `json:"address"`
	Feature string `json:"feature"`
}

// Analysis is the successful result for one file.
type Analysis struct {
	SHA256       string           `json:"sha256"`
	Format       string           `json:"format"`
	Arch         string           `json:"arch"`
	Functions    int              `json:"functions"`
	FeatureCount int              `json:"feature_count"`
	Features     []LocatedFeature `json:"features"`
}

// FileResult is the per-file entry of a report: either an analysis or an
// error, never both.
type FileResult struct {
	Status string     `json:"status"`
	Error  *FileError `json:"error,omitempty"`
	OK     *Analysis  `json:"ok,omitempty"`
}

// Document is one run's report over a set of files.
type Document struct {
	RunID       string                `json:"run_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Files       map[string]FileResult `json:"files"`
}

// AnalyzePath analyzes one file and folds every failure mode, panics
// included, into the result.
func AnalyzePath(path string) (result FileResult) {
	defer func() {
		if r := recover(); r != nil {
			result = errorResult(fmt.Errorf("panic: %v", r))
		}
	}()

	analysis, err := analyzeFile(path)
	if err != nil {
		return errorResult(err)
	}
	return FileResult{Status: "ok", OK: analysis}
}

func errorResult(err error) FileResult {
	kind := ErrorUnexpected
	switch {
	case errors.Is(err, backend.ErrUnsupportedFormat):
		kind = ErrorUnsupportedFormat
	case errors.Is(err, backend.ErrUnsupportedRuntime):
		kind = ErrorUnsupportedRuntime
	}
	return FileResult{
		Status: "error",
		Error:  &FileError{Kind: kind, Message: err.Error()},
	}
}

func analyzeFile(path string) (*Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	w, err := workspace.FromImage(data)
	if err != nil {
		return nil, err
	}

	funcs, err := w.Functions()
	if err != nil {
		return nil, err
	}

	seq, err := extractor.New(w).Extract()
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(data)
	analysis := &Analysis{
		SHA256:    hex.EncodeToString(digest[:]),
		Format:    w.Format(),
		Arch:      w.Arch(),
		Functions: len(funcs),
	}
	for feat, addr := range seq {
		analysis.Features = append(analysis.Features, LocatedFeature{
			Address: fmt.Sprintf("0x%x", uint64(addr)),
			Feature: feat.String(),
		})
	}
	analysis.FeatureCount = len(analysis.Features)
	sort.Slice(analysis.Features, func(i, j int) bool {
		a, b := analysis.Features[i], analysis.Features[j]
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		return a.Feature < b.Feature
	})
	return analysis, nil
}

// Run analyzes every regular file under root with the given number of
// workers and assembles the report. Only walk errors and context
// cancellation fail the run itself.
func Run(ctx context.Context, root string, workers int) (*Document, error) {
	if workers < 1 {
		workers = 1
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	doc := &Document{
		RunID:       ulid.Make().String(),
		GeneratedAt: time.Now().UTC(),
		Files:       make(map[string]FileResult, len(paths)),
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			slog.Debug("analyzing", "path", path)
			result := AnalyzePath(path)
			mu.Lock()
			doc.Files[path] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return doc, nil
}
