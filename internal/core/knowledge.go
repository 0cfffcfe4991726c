// Package core wires the storage, embedding, community, and transfer
// layers into the single surface the agent loop talks to.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mnemolab/recall/internal/config"
	"github.com/mnemolab/recall/internal/core/model"
	"github.com/mnemolab/recall/internal/embedding"
	"github.com/mnemolab/recall/internal/llm"
)

// maxSuggestionLen caps stored improvement suggestions.
const maxSuggestionLen = 1000

// relevantLimit bounds text-match retrieval on the hot read path.
const relevantLimit = 5

// Store is the graph surface the facade reads and writes.
type Store interface {
	AddRelationship(ctx context.Context, startID, endID, relType string, properties map[string]any) (*model.Relationship, error)
	GetNode(ctx context.Context, label, key string) (*model.Node, error)
	GetAllNodes(ctx context.Context, label string) ([]model.Node, error)
	FindRelevant(ctx context.Context, text string, limit int) ([]model.Node, error)
	RecentByLabel(ctx context.Context, label, task string, limit int) ([]model.Node, error)
}

// Organizer is the community layer: writes route through it so its rebuild
// policy sees every mutation. NoteWrite covers mutations that carry no
// node, like relationship creation.
type Organizer interface {
	UpdateKnowledge(ctx context.Context, label string, properties map[string]any) (*model.Node, error)
	NoteWrite()
	QueryCommunities(ctx context.Context, query string) (string, error)
	Rebuild(ctx context.Context) error
}

// KnowledgeBase is the orchestrator-facing facade. Writes propagate their
// errors; reads degrade to empty results so a storage hiccup never breaks
// the agent loop.
type KnowledgeBase struct {
	store     Store
	organizer Organizer
	index     *embedding.Index
	llm       llm.LLMClient
	prompts   config.Prompts
	logger    *zap.Logger
	now       func() time.Time
}

func NewKnowledgeBase(store Store, organizer Organizer, index *embedding.Index, llmClient llm.LLMClient, prompts config.Prompts, logger *zap.Logger) *KnowledgeBase {
	return &KnowledgeBase{
		store:     store,
		organizer: organizer,
		index:     index,
		llm:       llmClient,
		prompts:   prompts,
		logger:    logger,
		now:       time.Now,
	}
}

// AddOrUpdateNode upserts a node through the community layer.
func (kb *KnowledgeBase) AddOrUpdateNode(ctx context.Context, label string, properties map[string]any) (*model.Node, error) {
	return kb.organizer.UpdateKnowledge(ctx, label, properties)
}

// AddRelationship creates an edge between two existing nodes and marks the
// community projection stale.
func (kb *KnowledgeBase) AddRelationship(ctx context.Context, startID, endID, relType string, properties map[string]any) (*model.Relationship, error) {
	rel, err := kb.store.AddRelationship(ctx, startID, endID, relType, properties)
	if err != nil {
		return nil, err
	}
	kb.organizer.NoteWrite()
	return rel, nil
}

// GetNode looks a node up by natural key or id.
func (kb *KnowledgeBase) GetNode(ctx context.Context, label, key string) (*model.Node, error) {
	return kb.store.GetNode(ctx, label, key)
}

// GetAllNodes lists nodes; empty label lists everything.
func (kb *KnowledgeBase) GetAllNodes(ctx context.Context, label string) ([]model.Node, error) {
	return kb.store.GetAllNodes(ctx, label)
}

// AddTaskResult records a task outcome and links it to the concepts the
// model extracts from it. Extraction failure is tolerated: the result is
// already stored, the links are enrichment.
func (kb *KnowledgeBase) AddTaskResult(ctx context.Context, task, result string, score float64) (*model.Node, error) {
	node, err := kb.organizer.UpdateKnowledge(ctx, "TaskResult", map[string]any{
		"task":      task,
		"result":    result,
		"score":     score,
		"timestamp": kb.now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store task result: %w", err)
	}

	concepts, err := kb.ExtractConcepts(ctx, task+" "+result)
	if err != nil {
		kb.logger.Warn("concept extraction failed", zap.Error(err))
		return node, nil
	}
	for _, concept := range concepts {
		conceptNode, err := kb.organizer.UpdateKnowledge(ctx, "Concept", map[string]any{"name": concept})
		if err != nil {
			kb.logger.Warn("failed to upsert concept", zap.String("concept", concept), zap.Error(err))
			continue
		}
		if _, err := kb.AddRelationship(ctx, node.ID, conceptNode.ID, "RELATES_TO", nil); err != nil {
			kb.logger.Warn("failed to link concept", zap.String("concept", concept), zap.Error(err))
		}
	}
	return node, nil
}

// StoreEpisode saves one agent interaction for later recall.
func (kb *KnowledgeBase) StoreEpisode(ctx context.Context, taskContext map[string]any) (*model.Node, error) {
	content, err := json.Marshal(taskContext)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize episode: %w", err)
	}
	task, _ := taskContext["task"].(string)
	return kb.organizer.UpdateKnowledge(ctx, "Episode", map[string]any{
		"task":      task,
		"content":   string(content),
		"timestamp": kb.now().Unix(),
	})
}

// AddImprovementSuggestion stores a self-improvement note, truncated so a
// runaway generation cannot bloat the graph.
func (kb *KnowledgeBase) AddImprovementSuggestion(ctx context.Context, suggestion string) (*model.Node, error) {
	if len(suggestion) > maxSuggestionLen {
		suggestion = suggestion[:maxSuggestionLen]
	}
	return kb.organizer.UpdateKnowledge(ctx, "ImprovementSuggestion", map[string]any{
		"content":   suggestion,
		"timestamp": kb.now().Unix(),
	})
}

// GetRelevantKnowledge returns nodes whose content or name mentions the
// text. Failures degrade to an empty result.
func (kb *KnowledgeBase) GetRelevantKnowledge(ctx context.Context, text string) []model.Node {
	nodes, err := kb.store.FindRelevant(ctx, text, relevantLimit)
	if err != nil {
		kb.logger.Warn("relevant knowledge lookup failed", zap.Error(err))
		return nil
	}
	return nodes
}

// RecallEpisodes returns the most recent episodes matching the task,
// newest first. Failures degrade to an empty result.
func (kb *KnowledgeBase) RecallEpisodes(ctx context.Context, task string, limit int) []model.Node {
	nodes, err := kb.store.RecentByLabel(ctx, "Episode", task, limit)
	if err != nil {
		kb.logger.Warn("episode recall failed", zap.Error(err))
		return nil
	}
	return nodes
}

// QueryCommunities routes a question through the community layer.
// Failures degrade to an empty answer.
func (kb *KnowledgeBase) QueryCommunities(ctx context.Context, query string) string {
	answer, err := kb.organizer.QueryCommunities(ctx, query)
	if err != nil {
		kb.logger.Warn("community query failed", zap.Error(err))
		return ""
	}
	return answer
}

// RebuildCommunities forces a full detect-and-summarize pass.
func (kb *KnowledgeBase) RebuildCommunities(ctx context.Context) error {
	return kb.organizer.Rebuild(ctx)
}

// FindSimilarKnowledge ranks all stored nodes by embedding similarity to
// the text and returns the k nearest. Failures degrade to an empty result.
func (kb *KnowledgeBase) FindSimilarKnowledge(ctx context.Context, text string, k int) []model.Node {
	queryVec, err := kb.index.Encode(ctx, text)
	if err != nil {
		kb.logger.Warn("failed to embed query", zap.Error(err))
		return nil
	}
	nodes, err := kb.store.GetAllNodes(ctx, "")
	if err != nil {
		kb.logger.Warn("failed to list nodes for similarity search", zap.Error(err))
		return nil
	}

	candidates := make([]model.Node, 0, len(nodes))
	vectors := make([][]float32, 0, len(nodes))
	for _, node := range nodes {
		content := node.Content()
		if content == "" {
			continue
		}
		vec, err := kb.index.Encode(ctx, content)
		if err != nil {
			kb.logger.Warn("failed to embed node content", zap.String("key", node.Key()), zap.Error(err))
			continue
		}
		candidates = append(candidates, node)
		vectors = append(vectors, vec)
	}

	matches, err := kb.index.FindMostSimilar(queryVec, vectors, k, embedding.MetricCosine)
	if err != nil {
		kb.logger.Warn("similarity ranking failed", zap.Error(err))
		return nil
	}
	out := make([]model.Node, 0, len(matches))
	for _, m := range matches {
		out = append(out, candidates[m.Index])
	}
	return out
}
