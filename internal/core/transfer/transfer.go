// Package transfer moves knowledge between engine instances: flat and
// versioned export bundles, strategy-driven import, snapshot comparison,
// and whole-graph merging.
package transfer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mnemolab/recall/internal/core/model"
)

// Source is the read side of a knowledge store.
type Source interface {
	GetAllNodes(ctx context.Context, label string) ([]model.Node, error)
	NodesByLabels(ctx context.Context, labels []string) ([]model.Node, error)
	AllRelationships(ctx context.Context) ([]model.Relationship, error)
	GetNode(ctx context.Context, label, key string) (*model.Node, error)
}

// Sink is the write side of a knowledge store. AddOrUpdateNode merges
// properties into an existing node; ReplaceNode overwrites them wholesale.
type Sink interface {
	AddOrUpdateNode(ctx context.Context, label string, properties map[string]any) (*model.Node, error)
	ReplaceNode(ctx context.Context, label string, properties map[string]any) (*model.Node, error)
	AddRelationship(ctx context.Context, startID, endID, relType string, properties map[string]any) (*model.Relationship, error)
}

// Transferer exchanges knowledge with other stores or serialized bundles.
type Transferer struct {
	source Source
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewTransferer(source Source, sink Sink, logger *zap.Logger) *Transferer {
	return &Transferer{source: source, sink: sink, logger: logger, now: time.Now}
}

// ImportReport counts the outcome of an import pass. Failed items are
// skipped and logged; the rest of the bundle still lands.
type ImportReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ExportKnowledge returns every node in the store as a flat array. Empty
// labels exports everything.
func (t *Transferer) ExportKnowledge(ctx context.Context, labels []string) ([]model.Node, error) {
	var nodes []model.Node
	var err error
	if len(labels) == 0 {
		nodes, err = t.source.GetAllNodes(ctx, "")
	} else {
		nodes, err = t.source.NodesByLabels(ctx, labels)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to export knowledge: %w", err)
	}

	sort.Slice(nodes, func(a, b int) bool { return nodes[a].Key() < nodes[b].Key() })
	t.logger.Info("exported knowledge", zap.Int("nodes", len(nodes)))
	return nodes, nil
}

// ImportKnowledge writes a flat node array into the store. A node that
// fails to import is logged and skipped; it never aborts the batch.
func (t *Transferer) ImportKnowledge(ctx context.Context, nodes []model.Node) (*ImportReport, error) {
	report := &ImportReport{}
	for _, node := range nodes {
		if node.Label == "" {
			t.logger.Warn("skipping node without label", zap.String("id", node.ID))
			report.Failed++
			continue
		}
		if _, err := t.sink.AddOrUpdateNode(ctx, node.Label, importProps(node)); err != nil {
			t.logger.Warn("failed to import node",
				zap.String("label", node.Label),
				zap.String("key", node.Key()),
				zap.Error(err))
			report.Failed++
			continue
		}
		report.Imported++
	}
	t.logger.Info("imported knowledge",
		zap.Int("imported", report.Imported),
		zap.Int("failed", report.Failed))
	return report, nil
}

// ExportSubset builds a versioned bundle containing the nodes of the given
// labels plus every relationship whose both endpoints are in the subset.
func (t *Transferer) ExportSubset(ctx context.Context, labels []string) (*model.Snapshot, error) {
	nodes, err := t.source.NodesByLabels(ctx, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to export subset: %w", err)
	}
	rels, err := t.source.AllRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export relationships: %w", err)
	}

	inSubset := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		inSubset[n.ID] = true
	}
	kept := make([]model.Relationship, 0)
	for _, r := range rels {
		if inSubset[r.StartID] && inSubset[r.EndID] {
			kept = append(kept, r)
		}
	}

	sort.Slice(nodes, func(a, b int) bool { return nodes[a].Key() < nodes[b].Key() })
	sort.Slice(kept, func(a, b int) bool { return kept[a].ID < kept[b].ID })

	snapshot := &model.Snapshot{
		Version:       model.SnapshotVersion,
		Nodes:         nodes,
		Relationships: kept,
		Metadata: model.SnapshotMetadata{
			ExportDate: t.now().Unix(),
			NodeTypes:  sortedLabels(labels),
		},
	}
	t.logger.Info("exported subset",
		zap.Strings("labels", labels),
		zap.Int("nodes", len(nodes)),
		zap.Int("relationships", len(kept)))
	return snapshot, nil
}

// ImportSubset applies a versioned bundle under the given merge strategy.
// A version mismatch is logged and import proceeds best-effort.
func (t *Transferer) ImportSubset(ctx context.Context, snapshot *model.Snapshot, strategy model.MergeStrategy) (*ImportReport, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown merge strategy '%s'", strategy)
	}
	if snapshot.Version != model.SnapshotVersion {
		t.logger.Warn("snapshot version mismatch, importing best-effort",
			zap.String("got", snapshot.Version),
			zap.String("want", model.SnapshotVersion))
	}

	report := &ImportReport{}
	// Imported node ids may be reassigned on insert; remap relationship
	// endpoints through the old ids.
	idMap := make(map[string]string, len(snapshot.Nodes))

	for _, node := range snapshot.Nodes {
		imported, skipped, err := t.importNode(ctx, node, strategy)
		if err != nil {
			t.logger.Warn("failed to import node",
				zap.String("key", node.Key()),
				zap.Error(err))
			report.Failed++
			continue
		}
		if imported != nil {
			idMap[node.ID] = imported.ID
		}
		if skipped {
			report.Skipped++
		} else {
			report.Imported++
		}
	}

	for _, rel := range snapshot.Relationships {
		startID, okStart := idMap[rel.StartID]
		endID, okEnd := idMap[rel.EndID]
		if !okStart || !okEnd {
			report.Skipped++
			continue
		}
		if _, err := t.sink.AddRelationship(ctx, startID, endID, rel.Type, rel.Properties); err != nil {
			t.logger.Warn("failed to import relationship",
				zap.String("type", rel.Type),
				zap.Error(err))
			report.Failed++
		}
	}

	t.logger.Info("imported subset",
		zap.String("strategy", string(strategy)),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (t *Transferer) importNode(ctx context.Context, node model.Node, strategy model.MergeStrategy) (*model.Node, bool, error) {
	switch strategy {
	case model.MergeSkipExisting:
		if existing := t.lookupExisting(ctx, node); existing != nil {
			return existing, true, nil
		}
	case model.MergeFields:
		if existing := t.lookupExisting(ctx, node); existing != nil {
			merged := make(map[string]any, len(existing.Properties)+len(node.Properties))
			for k, v := range existing.Properties {
				merged[k] = v
			}
			for k, v := range node.Properties {
				merged[k] = v
			}
			node.Properties = merged
		}
	case model.MergeUpdate:
		// Incoming record wins wholesale: destination-only fields drop.
		written, err := t.sink.ReplaceNode(ctx, node.Label, importProps(node))
		if err != nil {
			return nil, false, err
		}
		return written, false, nil
	}

	written, err := t.sink.AddOrUpdateNode(ctx, node.Label, importProps(node))
	if err != nil {
		return nil, false, err
	}
	return written, false, nil
}

func (t *Transferer) lookupExisting(ctx context.Context, node model.Node) *model.Node {
	key := node.Name()
	if key == "" {
		key = node.ID
	}
	existing, err := t.source.GetNode(ctx, node.Label, key)
	if err != nil {
		return nil
	}
	return existing
}

// MergeFrom pulls every node and relationship from another store into this
// one under the given strategy.
func (t *Transferer) MergeFrom(ctx context.Context, other Source, strategy model.MergeStrategy) (*ImportReport, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown merge strategy '%s'", strategy)
	}
	nodes, err := other.GetAllNodes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read source graph: %w", err)
	}
	rels, err := other.AllRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read source relationships: %w", err)
	}

	snapshot := &model.Snapshot{
		Version:       model.SnapshotVersion,
		Nodes:         nodes,
		Relationships: rels,
		Metadata:      model.SnapshotMetadata{ExportDate: t.now().Unix()},
	}
	return t.ImportSubset(ctx, snapshot, strategy)
}

// importProps flattens a node back to the property map the store accepts.
// The surrogate id never travels: the destination mints or keeps its own.
func importProps(node model.Node) map[string]any {
	props := make(map[string]any, len(node.Properties)+1)
	for k, v := range node.Properties {
		if k == "id" {
			continue
		}
		props[k] = v
	}
	if len(node.Embedding) > 0 {
		props["embedding"] = node.Embedding
	}
	return props
}

func sortedLabels(labels []string) []string {
	out := append([]string{}, labels...)
	sort.Strings(out)
	return out
}
