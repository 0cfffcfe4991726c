package graph

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/mnemolab/recall/internal/core/model"
	"github.com/mnemolab/recall/internal/driver"
)

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Store is the property-graph CRUD layer. Node identity follows the
// composite (label, name) natural key when a name property exists; nodes
// without one are matched only by their opaque id.
type Store struct {
	driver driver.GraphDriver
	logger *zap.Logger

	// NewID is swappable for tests.
	NewID func() string
}

func NewStore(d driver.GraphDriver, logger *zap.Logger) *Store {
	return &Store{
		driver: d,
		logger: logger,
		NewID:  func() string { return uuid.New().String() },
	}
}

// AddOrUpdateNode upserts a node. When found, incoming property values
// overwrite matching keys and all other stored properties are preserved.
// The merged node is returned.
func (s *Store) AddOrUpdateNode(ctx context.Context, label string, properties map[string]any) (*model.Node, error) {
	if err := validIdent(label); err != nil {
		return nil, err
	}

	props := s.encodeProps(properties)
	id, _ := props["id"].(string)
	if id == "" {
		id = s.NewID()
	}
	delete(props, "id")

	var cypher string
	params := map[string]any{"id": id, "props": props}
	if name, ok := props["name"].(string); ok && name != "" {
		cypher = fmt.Sprintf(UpsertNodeByNameQuery, label)
		params["name"] = name
	} else {
		cypher = fmt.Sprintf(UpsertNodeByIDQuery, label)
		props["id"] = id
	}

	result, err := s.driver.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert node: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("upsert returned no node for label %s", label)
	}

	node, err := nodeFromRecord(result.Records[0], label)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("upserted node", zap.String("label", label), zap.String("id", node.ID))
	return node, nil
}

// ReplaceNode upserts a node, replacing its stored properties wholesale:
// stored fields absent from the input are removed, unlike AddOrUpdateNode
// which preserves them. The surrogate id survives the replacement.
func (s *Store) ReplaceNode(ctx context.Context, label string, properties map[string]any) (*model.Node, error) {
	if err := validIdent(label); err != nil {
		return nil, err
	}

	props := s.encodeProps(properties)
	id, _ := props["id"].(string)
	if id == "" {
		id = s.NewID()
	}
	delete(props, "id")

	var cypher string
	params := map[string]any{"id": id, "props": props}
	if name, ok := props["name"].(string); ok && name != "" {
		cypher = fmt.Sprintf(ReplaceNodeByNameQuery, label)
		params["name"] = name
	} else {
		cypher = fmt.Sprintf(ReplaceNodeByIDQuery, label)
	}

	result, err := s.driver.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("failed to replace node: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("replace returned no node for label %s", label)
	}

	node, err := nodeFromRecord(result.Records[0], label)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("replaced node", zap.String("label", label), zap.String("id", node.ID))
	return node, nil
}

// AddRelationship creates a typed relationship between two existing nodes.
// A missing endpoint fails with ErrMissingEndpoint and creates nothing.
func (s *Store) AddRelationship(ctx context.Context, startID, endID, relType string, properties map[string]any) (*model.Relationship, error) {
	if startID == "" || endID == "" {
		return nil, fmt.Errorf("%w: empty endpoint id", driver.ErrMissingEndpoint)
	}
	if err := validIdent(relType); err != nil {
		return nil, err
	}

	props := s.encodeProps(properties)
	if _, ok := props["id"]; !ok {
		props["id"] = s.NewID()
	}

	cypher := fmt.Sprintf(CreateRelationshipQuery, relType)
	result, err := s.driver.ExecuteQuery(ctx, cypher, map[string]any{
		"start_id": startID,
		"end_id":   endID,
		"props":    props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create relationship: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("%w: %s or %s", driver.ErrMissingEndpoint, startID, endID)
	}

	id, _ := props["id"].(string)
	return &model.Relationship{
		ID:         id,
		Type:       relType,
		StartID:    startID,
		EndID:      endID,
		Properties: decodeProperties(stripKeys(props, "id")),
	}, nil
}

// GetNode fetches a single node of label whose name or id equals key.
func (s *Store) GetNode(ctx context.Context, label, key string) (*model.Node, error) {
	if err := validIdent(label); err != nil {
		return nil, err
	}

	result, err := s.driver.ExecuteQuery(ctx, fmt.Sprintf(GetNodeQuery, label), map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("%w: %s %q", driver.ErrNotFound, label, key)
	}
	return nodeFromRecord(result.Records[0], label)
}

// GetAllNodes returns every node of the given label, or every node in the
// store when label is empty.
func (s *Store) GetAllNodes(ctx context.Context, label string) ([]model.Node, error) {
	cypher := GetAllNodesQuery
	if label != "" {
		if err := validIdent(label); err != nil {
			return nil, err
		}
		cypher = fmt.Sprintf(GetNodesByLabelQuery, label)
	}

	result, err := s.driver.ExecuteQuery(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodesFromRecords(result.Records, label)
}

// NodesByLabels collects nodes across several labels.
func (s *Store) NodesByLabels(ctx context.Context, labels []string) ([]model.Node, error) {
	var nodes []model.Node
	for _, label := range labels {
		batch, err := s.GetAllNodes(ctx, label)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, batch...)
	}
	return nodes, nil
}

// AllRelationships returns every relationship in the store.
func (s *Store) AllRelationships(ctx context.Context) ([]model.Relationship, error) {
	result, err := s.driver.ExecuteQuery(ctx, GetAllRelationshipsQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}

	rels := make([]model.Relationship, 0, len(result.Records))
	for _, record := range result.Records {
		rel, err := relationshipFromRecord(record)
		if err != nil {
			s.logger.Warn("skipping unreadable relationship", zap.Error(err))
			continue
		}
		rels = append(rels, *rel)
	}
	return rels, nil
}

// FindRelevant does a plain substring match over content and name.
func (s *Store) FindRelevant(ctx context.Context, text string, limit int) ([]model.Node, error) {
	if limit <= 0 {
		limit = 5
	}
	result, err := s.driver.ExecuteQuery(ctx, GetRelevantNodesQuery, map[string]any{"text": text, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to search nodes: %w", err)
	}
	return nodesFromRecords(result.Records, "")
}

// RecentByLabel returns the newest nodes of a label whose task property
// contains the given text.
func (s *Store) RecentByLabel(ctx context.Context, label, task string, limit int) ([]model.Node, error) {
	if err := validIdent(label); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	result, err := s.driver.ExecuteQuery(ctx, fmt.Sprintf(GetRecentNodesByLabelQuery, label), map[string]any{
		"task":  task,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent nodes: %w", err)
	}
	return nodesFromRecords(result.Records, label)
}

// Query is the generic parametrized pattern-query primitive used by higher
// layers. Records come back as key/value maps.
func (s *Store) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	result, err := s.driver.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		row := make(map[string]any, len(record.Keys))
		for i, key := range record.Keys {
			row[key] = record.Values[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) encodeProps(properties map[string]any) map[string]any {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		encoded, err := encodeProperty(v)
		if err != nil {
			// Serialization failures degrade to a placeholder, not an abort.
			s.logger.Warn("property coerced to string placeholder", zap.String("key", k), zap.Error(err))
		}
		props[k] = encoded
	}
	return props
}

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid label or relationship type %q", name)
	}
	return nil
}

func stripKeys(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func nodeFromRecord(record *neo4j.Record, fallbackLabel string) (*model.Node, error) {
	raw, ok := record.Get("n")
	if !ok {
		return nil, fmt.Errorf("record has no node column")
	}
	dbNode, ok := raw.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected node value type %T", raw)
	}

	label := fallbackLabel
	if len(dbNode.Labels) > 0 {
		label = dbNode.Labels[0]
	}

	props := decodeProperties(dbNode.Props)
	id, _ := props["id"].(string)
	delete(props, "id")

	node := &model.Node{ID: id, Label: label, Properties: props}
	if emb, ok := props["embedding"]; ok {
		if vec := toFloat32s(emb); vec != nil {
			node.Embedding = vec
			delete(props, "embedding")
		}
	}
	return node, nil
}

func nodesFromRecords(records []*neo4j.Record, fallbackLabel string) ([]model.Node, error) {
	nodes := make([]model.Node, 0, len(records))
	for _, record := range records {
		node, err := nodeFromRecord(record, fallbackLabel)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, nil
}

func relationshipFromRecord(record *neo4j.Record) (*model.Relationship, error) {
	raw, ok := record.Get("r")
	if !ok {
		return nil, fmt.Errorf("record has no relationship column")
	}
	dbRel, ok := raw.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("unexpected relationship value type %T", raw)
	}

	props := decodeProperties(dbRel.Props)
	id, _ := props["id"].(string)
	delete(props, "id")

	relType := dbRel.Type
	if v, ok := record.Get("type"); ok {
		if s, ok := v.(string); ok && s != "" {
			relType = s
		}
	}

	rel := &model.Relationship{ID: id, Type: relType, Properties: props}
	if v, ok := record.Get("start_id"); ok {
		rel.StartID, _ = v.(string)
	}
	if v, ok := record.Get("end_id"); ok {
		rel.EndID, _ = v.(string)
	}
	return rel, nil
}

func toFloat32s(v any) []float32 {
	switch vec := v.(type) {
	case []float32:
		return vec
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, len(vec))
		for i, item := range vec {
			f, ok := item.(float64)
			if !ok {
				return nil
			}
			out[i] = float32(f)
		}
		return out
	}
	return nil
}
