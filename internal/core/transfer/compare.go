package transfer

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/mnemolab/recall/internal/core/model"
)

// Compare classifies two stores node by node: matched on the composite
// (label, name) key when a name exists, on the opaque id otherwise. Nodes
// matched by name ignore the surrogate id when diffing, since each store
// mints its own.
func (t *Transferer) Compare(ctx context.Context, other Source) (*model.GraphComparison, error) {
	current, err := t.source.GetAllNodes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read current graph: %w", err)
	}
	theirs, err := other.GetAllNodes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read other graph: %w", err)
	}
	return CompareNodes(current, theirs), nil
}

// CompareSnapshot classifies the current store against an exported bundle.
func (t *Transferer) CompareSnapshot(ctx context.Context, snapshot *model.Snapshot) (*model.GraphComparison, error) {
	current, err := t.source.GetAllNodes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read current graph: %w", err)
	}
	return CompareNodes(current, snapshot.Nodes), nil
}

// CompareNodes diffs two node sets. Output slices are sorted by key so the
// comparison is stable across runs.
func CompareNodes(current, other []model.Node) *model.GraphComparison {
	currentByKey := indexByKey(current)
	otherByKey := indexByKey(other)

	comparison := &model.GraphComparison{}

	for _, key := range sortedNodeKeys(currentByKey) {
		cur := currentByKey[key]
		oth, ok := otherByKey[key]
		if !ok {
			comparison.OnlyInCurrent = append(comparison.OnlyInCurrent, cur)
			continue
		}
		changed := changedFields(cur, oth)
		if len(changed) == 0 {
			comparison.Identical = append(comparison.Identical, cur)
		} else {
			comparison.Different = append(comparison.Different, model.NodeDiff{
				Key:           key,
				Current:       cur,
				Other:         oth,
				ChangedFields: changed,
			})
		}
	}

	for _, key := range sortedNodeKeys(otherByKey) {
		if _, ok := currentByKey[key]; !ok {
			comparison.OnlyInOther = append(comparison.OnlyInOther, otherByKey[key])
		}
	}
	return comparison
}

// changedFields lists property names whose values differ. The surrogate id
// is excluded for name-keyed nodes.
func changedFields(current, other model.Node) []string {
	namedKey := current.Name() != ""
	seen := make(map[string]bool, len(current.Properties)+len(other.Properties))
	var changed []string

	for k, v := range current.Properties {
		seen[k] = true
		if namedKey && k == "id" {
			continue
		}
		ov, ok := other.Properties[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			changed = append(changed, k)
		}
	}
	for k := range other.Properties {
		if seen[k] {
			continue
		}
		if namedKey && k == "id" {
			continue
		}
		changed = append(changed, k)
	}

	sort.Strings(changed)
	return changed
}

func indexByKey(nodes []model.Node) map[string]model.Node {
	out := make(map[string]model.Node, len(nodes))
	for _, n := range nodes {
		out[n.Key()] = n
	}
	return out
}

func sortedNodeKeys(m map[string]model.Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
