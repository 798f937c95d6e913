// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package state implements the State Store (C5): atomic persistence of the
// resume record and plan artifacts, plus a secondary Badger-backed index of
// resume history for restart diagnostics. All filesystem writes follow the
// write-temp-fsync-rename discipline grounded on
// services/trace/dag/checkpoint.go's SaveCheckpoint.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

const subdir = ".reviewd"

// Paths resolves every well-known artifact path under a repo root.
type Paths struct {
	Resume         string
	InitialPlanJS  string
	InitialPlanMD  string
	ReviewPlanJS   string
	ReviewPlanMD   string
}

// ResolvePaths returns the fixed artifact layout for repoRoot.
func ResolvePaths(repoRoot string) Paths {
	base := filepath.Join(repoRoot, subdir)
	return Paths{
		Resume:        filepath.Join(repoRoot, "resume.json"),
		InitialPlanJS: filepath.Join(base, "initial_plan.json"),
		InitialPlanMD: filepath.Join(base, "initial_plan.md"),
		ReviewPlanJS:  filepath.Join(base, "review_plan.json"),
		ReviewPlanMD:  filepath.Join(base, "review_plan.md"),
	}
}

// Store owns all persisted orchestration artifacts for one repo. The
// Orchestrator is its only caller; every other component is read-only with
// respect to shared state.
type Store struct {
	repoRoot string
	history  *badgerdb.DB // secondary index; nil when history tracking is disabled
}

// Open prepares the well-known subdirectory and, when historyDir is
// non-empty, opens a Badger index of past resume records for diagnostics,
// read back through ResumeHistory. historyDir is independent of
// repoRoot so multiple repos can share one index.
func Open(repoRoot, historyDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(repoRoot, subdir), 0o755); err != nil {
		return nil, review.NewError(review.KindConfigError, "cannot create state directory: "+err.Error(), nil)
	}
	s := &Store{repoRoot: repoRoot}
	if historyDir != "" {
		db, err := badgerdb.Open(badgerdb.DefaultOptions(historyDir).WithLogger(nil))
		if err != nil {
			return nil, review.NewError(review.KindConfigError, "cannot open history index: "+err.Error(), nil)
		}
		s.history = db
	}
	return s, nil
}

// Close releases the history index, if any.
func (s *Store) Close() error {
	if s.history == nil {
		return nil
	}
	return s.history.Close()
}

// writeAtomic writes data to path via a sibling temp file, fsync, rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	success = true
	return nil
}

// SaveResume persists rec atomically and, when history tracking is
// enabled, appends it to the Badger index keyed by step for later
// inspection.
func (s *Store) SaveResume(rec review.ResumeRecord) error {
	paths := ResolvePaths(s.repoRoot)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal resume record: %w", err)
	}
	if err := writeAtomic(paths.Resume, data); err != nil {
		return err
	}
	if s.history != nil {
		key := fmt.Sprintf("resume/%s/%08d", s.repoRoot, rec.Step)
		_ = s.history.Update(func(txn *badgerdb.Txn) error {
			return txn.Set([]byte(key), data)
		})
	}
	return nil
}

// LoadResume reads the resume record, treating an absent or malformed file
// as "no state" rather than an error, per the restart-reconciliation rule.
func (s *Store) LoadResume() (review.ResumeRecord, bool) {
	paths := ResolvePaths(s.repoRoot)
	data, err := os.ReadFile(paths.Resume)
	if err != nil {
		return review.ResumeRecord{}, false
	}
	var rec review.ResumeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return review.ResumeRecord{}, false
	}
	return rec, true
}

// SaveInitialPlan persists the plan-first output as both a JSON artifact
// and a human-readable markdown twin.
func (s *Store) SaveInitialPlan(plan review.IterationPlan) error {
	paths := ResolvePaths(s.repoRoot)
	return s.savePlan(plan, paths.InitialPlanJS, paths.InitialPlanMD)
}

// SaveReviewPlan persists the final-review synthesis output the same way.
func (s *Store) SaveReviewPlan(plan review.IterationPlan) error {
	paths := ResolvePaths(s.repoRoot)
	return s.savePlan(plan, paths.ReviewPlanJS, paths.ReviewPlanMD)
}

func (s *Store) savePlan(plan review.IterationPlan, jsPath, mdPath string) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := writeAtomic(jsPath, data); err != nil {
		return err
	}
	return writeAtomic(mdPath, []byte(renderPlanMarkdown(plan)))
}

func renderPlanMarkdown(plan review.IterationPlan) string {
	md := "# Plan\n\n" + plan.Overview + "\n"
	if plan.SuggestedRunCommand != "" {
		md += "\n## Suggested run command\n\n```\n" + plan.SuggestedRunCommand + "\n```\n"
	}
	if plan.EstimatedIterations > 0 {
		md += fmt.Sprintf("\nEstimated iterations: %d\n", plan.EstimatedIterations)
	}
	if len(plan.Classification) > 0 {
		md += "\n## File classification\n\n"
		for path, class := range plan.Classification {
			md += fmt.Sprintf("- `%s`: %s\n", path, class)
		}
	}
	if !hasTrailingNewline(md) {
		md += "\n"
	}
	return md
}

func hasTrailingNewline(s string) bool {
	return len(s) > 0 && s[len(s)-1] == '\n'
}

// LoadInitialPlan reads back a previously persisted plan-first artifact.
func (s *Store) LoadInitialPlan() (review.IterationPlan, bool) {
	return loadPlan(ResolvePaths(s.repoRoot).InitialPlanJS)
}

// LoadReviewPlan reads back a previously persisted final-review artifact.
func (s *Store) LoadReviewPlan() (review.IterationPlan, bool) {
	return loadPlan(ResolvePaths(s.repoRoot).ReviewPlanJS)
}

func loadPlan(path string) (review.IterationPlan, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return review.IterationPlan{}, false
	}
	var plan review.IterationPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return review.IterationPlan{}, false
	}
	return plan, true
}

// ResumeHistory returns every resume record ever recorded for repoRoot, in
// step order, when history tracking was enabled via Open. Returns an empty
// slice (never an error) when tracking is disabled, since this is a
// diagnostics-only capability.
func (s *Store) ResumeHistory() ([]review.ResumeRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	prefix := []byte(fmt.Sprintf("resume/%s/", s.repoRoot))
	var out []review.ResumeRecord
	err := s.history.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec review.ResumeRecord
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
