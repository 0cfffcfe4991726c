package model

// SnapshotVersion is the wire version of the subset export bundle.
const SnapshotVersion = "1.0"

// Snapshot is the versioned export bundle produced by subset export.
// Relationships are included for referential completeness.
type Snapshot struct {
	Version       string           `json:"version"`
	Nodes         []Node           `json:"nodes"`
	Relationships []Relationship   `json:"relationships"`
	Metadata      SnapshotMetadata `json:"metadata"`
}

type SnapshotMetadata struct {
	ExportDate int64    `json:"export_date"`
	NodeTypes  []string `json:"node_types"`
}

// MergeStrategy selects how an imported record is reconciled with a
// destination record that already exists.
type MergeStrategy string

const (
	// MergeUpdate overwrites the destination record with the import.
	MergeUpdate MergeStrategy = "update"
	// MergeSkipExisting leaves the destination untouched when a node with
	// the same identity already exists.
	MergeSkipExisting MergeStrategy = "skip_existing"
	// MergeFields combines field-wise: fields present in the import
	// overwrite, fields absent from it are preserved.
	MergeFields MergeStrategy = "merge"
)

// Valid reports whether s names a supported strategy.
func (s MergeStrategy) Valid() bool {
	switch s {
	case MergeUpdate, MergeSkipExisting, MergeFields:
		return true
	}
	return false
}

// NodeDiff describes a node present on both sides with differing fields.
type NodeDiff struct {
	Key           string   `json:"key"`
	Current       Node     `json:"current"`
	Other         Node     `json:"other"`
	ChangedFields []string `json:"changed_fields"`
}

// GraphComparison classifies two knowledge snapshots node by node. Nodes are
// matched on the composite (label, name) key when a name exists, falling
// back to the opaque id.
type GraphComparison struct {
	OnlyInCurrent []Node     `json:"only_in_current"`
	OnlyInOther   []Node     `json:"only_in_other"`
	Different     []NodeDiff `json:"different"`
	Identical     []Node     `json:"identical"`
}
