package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mnemolab/recall/internal/core/model"
)

// ExportToFile writes the flat node array as JSON.
func (t *Transferer) ExportToFile(ctx context.Context, labels []string, path string) error {
	nodes, err := t.ExportKnowledge(ctx, labels)
	if err != nil {
		return err
	}
	return writeJSON(path, nodes)
}

// ImportFromFile reads a flat node array and upserts each record.
func (t *Transferer) ImportFromFile(ctx context.Context, path string) (*ImportReport, error) {
	var nodes []model.Node
	if err := readJSON(path, &nodes); err != nil {
		return nil, err
	}
	return t.ImportKnowledge(ctx, nodes)
}

// ExportSubsetToFile writes a versioned bundle for the given labels.
func (t *Transferer) ExportSubsetToFile(ctx context.Context, labels []string, path string) error {
	snapshot, err := t.ExportSubset(ctx, labels)
	if err != nil {
		return err
	}
	return writeJSON(path, snapshot)
}

// ImportSubsetFromFile reads a versioned bundle and applies it under the
// given merge strategy.
func (t *Transferer) ImportSubsetFromFile(ctx context.Context, path string, strategy model.MergeStrategy) (*ImportReport, error) {
	var snapshot model.Snapshot
	if err := readJSON(path, &snapshot); err != nil {
		return nil, err
	}
	return t.ImportSubset(ctx, &snapshot, strategy)
}

// CompareFile classifies the current store against an exported bundle file.
func (t *Transferer) CompareFile(ctx context.Context, path string) (*model.GraphComparison, error) {
	var snapshot model.Snapshot
	if err := readJSON(path, &snapshot); err != nil {
		return nil, err
	}
	return t.CompareSnapshot(ctx, &snapshot)
}

// MergeFile applies an exported bundle file under the given strategy.
func (t *Transferer) MergeFile(ctx context.Context, path string, strategy model.MergeStrategy) (*ImportReport, error) {
	return t.ImportSubsetFromFile(ctx, path, strategy)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize export: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read import file '%s': %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse import file '%s': %w", path, err)
	}
	return nil
}
