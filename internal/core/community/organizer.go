package community

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mnemolab/recall/internal/config"
	"github.com/mnemolab/recall/internal/core/model"
	"github.com/mnemolab/recall/internal/embedding"
	"github.com/mnemolab/recall/internal/llm"
)

// GraphSource is the slice of the store the organizer needs.
type GraphSource interface {
	GetAllNodes(ctx context.Context, label string) ([]model.Node, error)
	AllRelationships(ctx context.Context) ([]model.Relationship, error)
	AddOrUpdateNode(ctx context.Context, label string, properties map[string]any) (*model.Node, error)
}

// State tracks the organizer lifecycle over the knowledge set.
type State int

const (
	StateUninitialized State = iota
	StateBuilt
	StateClustered
	StateSummarized
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateClustered:
		return "clustered"
	case StateSummarized:
		return "summarized"
	default:
		return "uninitialized"
	}
}

// summaryChunkSize bounds how many member snippets go into one generation
// call; larger communities are summarized map-reduce style.
const summaryChunkSize = 20

// Organizer projects the stored graph into memory, clusters it by
// modularity, summarizes each cluster, and routes queries to the most
// relevant clusters. Cluster assignments are derived state: rebuilt
// wholesale, never patched.
type Organizer struct {
	store    GraphSource
	index    *embedding.Index
	llm      llm.LLMClient
	detector *LouvainDetector
	prompts  config.Prompts
	cfg      config.CommunityConfig
	logger   *zap.Logger

	mu          sync.Mutex
	state       State
	nodes       map[string]model.Node
	edges       []Edge
	assignments map[string]int
	summaries   map[int]string
	// pendingWrites counts writes since the last rebuild; the rebuild
	// policy fires when it reaches cfg.RebuildEvery.
	pendingWrites int
	version       uint64
}

func NewOrganizer(store GraphSource, index *embedding.Index, llmClient llm.LLMClient, cfg config.CommunityConfig, prompts config.Prompts, logger *zap.Logger) *Organizer {
	detector := NewLouvainDetector()
	if cfg.MaxPasses > 0 {
		detector.MaxPasses = cfg.MaxPasses
	}
	return &Organizer{
		store:       store,
		index:       index,
		llm:         llmClient,
		detector:    detector,
		prompts:     prompts,
		cfg:         cfg,
		logger:      logger,
		nodes:       make(map[string]model.Node),
		assignments: make(map[string]int),
		summaries:   make(map[int]string),
	}
}

func (o *Organizer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Version increments on every accepted write; callers can use it to detect
// that derived state may lag the store.
func (o *Organizer) Version() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.version
}

// BuildGraphFromStore projects all nodes and their relationships into the
// in-memory graph.
func (o *Organizer) BuildGraphFromStore(ctx context.Context) error {
	nodes, err := o.store.GetAllNodes(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to project nodes: %w", err)
	}
	rels, err := o.store.AllRelationships(ctx)
	if err != nil {
		return fmt.Errorf("failed to project relationships: %w", err)
	}

	projected := make(map[string]model.Node, len(nodes))
	for _, n := range nodes {
		projected[n.ID] = n
	}
	edges := make([]Edge, 0, len(rels))
	for _, r := range rels {
		if r.StartID == "" || r.EndID == "" {
			continue
		}
		edges = append(edges, Edge{Source: r.StartID, Target: r.EndID, Weight: 1})
	}

	o.mu.Lock()
	o.nodes = projected
	o.edges = edges
	o.state = StateBuilt
	o.pendingWrites = 0
	o.mu.Unlock()

	o.logger.Info("projected knowledge graph",
		zap.Int("nodes", len(projected)),
		zap.Int("edges", len(edges)))
	return nil
}

// DetectCommunities runs a full modularity clustering over the current
// projection. Memoized summaries are invalidated.
func (o *Organizer) DetectCommunities() (map[string]int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateUninitialized {
		return nil, fmt.Errorf("graph not built")
	}

	ids := make([]string, 0, len(o.nodes))
	for id := range o.nodes {
		ids = append(ids, id)
	}

	assignments := o.detector.Detect(ids, o.edges)
	o.assignments = assignments
	o.summaries = make(map[int]string)
	o.state = StateClustered

	o.logger.Info("detected communities", zap.Int("count", communityCount(assignments)))
	return assignments, nil
}

// SummarizeCommunities generates one summary per community and memoizes
// the results until the next detection pass. The summary map is built
// fresh and swapped in only when every community succeeded, so a failed
// rebuild never corrupts previously summarized state.
func (o *Organizer) SummarizeCommunities(ctx context.Context) error {
	o.mu.Lock()
	if o.state < StateClustered {
		o.mu.Unlock()
		return fmt.Errorf("communities not detected")
	}
	members := o.membersLocked()
	o.mu.Unlock()

	fresh := make(map[int]string, len(members))
	for _, communityID := range sortedKeys(members) {
		summary, err := o.summarizeMembers(ctx, members[communityID])
		if err != nil {
			return fmt.Errorf("failed to summarize community %d: %w", communityID, err)
		}
		fresh[communityID] = summary
	}

	o.mu.Lock()
	o.summaries = fresh
	o.state = StateSummarized
	o.mu.Unlock()

	// Bookkeeping: derived summaries are logged back into the store.
	for _, communityID := range sortedKeys(fresh) {
		_, err := o.store.AddOrUpdateNode(ctx, "CommunitySummary", map[string]any{
			"name":    fmt.Sprintf("community-%d", communityID),
			"content": fresh[communityID],
		})
		if err != nil {
			o.logger.Warn("failed to persist community summary", zap.Int("community", communityID), zap.Error(err))
		}
	}

	o.logger.Info("summarized communities", zap.Int("count", len(fresh)))
	return nil
}

func (o *Organizer) summarizeMembers(ctx context.Context, members []model.Node) (string, error) {
	snippets := make([]string, 0, len(members))
	for _, n := range members {
		if content := n.Content(); content != "" {
			snippets = append(snippets, content)
		}
	}
	if len(snippets) == 0 {
		return "No significant information.", nil
	}
	return o.summarizeSnippets(ctx, snippets)
}

// summarizeSnippets reduces member content map-reduce style: chunks are
// summarized independently and the intermediate summaries summarized
// again until one remains.
func (o *Organizer) summarizeSnippets(ctx context.Context, snippets []string) (string, error) {
	if len(snippets) <= summaryChunkSize {
		prompt := fmt.Sprintf(o.prompts.CommunitySummary, strings.Join(snippets, " "))
		summary, err := o.llm.Generate(ctx, o.prompts.CommunitySummarySystem, prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(summary), nil
	}

	var intermediate []string
	for start := 0; start < len(snippets); start += summaryChunkSize {
		end := start + summaryChunkSize
		if end > len(snippets) {
			end = len(snippets)
		}
		summary, err := o.summarizeSnippets(ctx, snippets[start:end])
		if err != nil {
			return "", err
		}
		intermediate = append(intermediate, summary)
	}
	return o.summarizeSnippets(ctx, intermediate)
}

// RankedCommunity is one query-routing candidate.
type RankedCommunity struct {
	ID         int     `json:"id"`
	Similarity float64 `json:"similarity"`
	Summary    string  `json:"summary"`
}

// RankCommunities orders community summaries by cosine similarity to the
// query, keeping those above the configured threshold. Stable ordering
// with a tie-break on community id keeps identical queries against an
// unchanged knowledge set deterministic.
func (o *Organizer) RankCommunities(ctx context.Context, query string) ([]RankedCommunity, error) {
	queryVec, err := o.index.Encode(ctx, query)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	summaries := make(map[int]string, len(o.summaries))
	for id, s := range o.summaries {
		summaries[id] = s
	}
	o.mu.Unlock()

	ranked := make([]RankedCommunity, 0, len(summaries))
	for _, id := range sortedKeys(summaries) {
		summaryVec, err := o.index.Encode(ctx, summaries[id])
		if err != nil {
			return nil, err
		}
		similarity := embedding.CosineSimilarity(queryVec, summaryVec)
		if similarity > o.cfg.SimilarityThreshold {
			ranked = append(ranked, RankedCommunity{ID: id, Similarity: similarity, Summary: summaries[id]})
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Similarity != ranked[b].Similarity {
			return ranked[a].Similarity > ranked[b].Similarity
		}
		return ranked[a].ID < ranked[b].ID
	})
	return ranked, nil
}

// QueryCommunities answers a query in two stages: one partial answer per
// relevant community, then one synthesis call combining them.
func (o *Organizer) QueryCommunities(ctx context.Context, query string) (string, error) {
	if err := o.EnsureFresh(ctx); err != nil {
		return "", err
	}

	ranked, err := o.RankCommunities(ctx, query)
	if err != nil {
		return "", err
	}
	if len(ranked) > o.cfg.TopCommunities {
		ranked = ranked[:o.cfg.TopCommunities]
	}
	if len(ranked) == 0 {
		o.logger.Debug("no communities above similarity threshold", zap.String("query", truncate(query, 50)))
		return "", nil
	}

	o.mu.Lock()
	members := o.membersLocked()
	o.mu.Unlock()

	partials := make([]string, 0, len(ranked))
	for _, rc := range ranked {
		var contents []string
		for _, n := range members[rc.ID] {
			if c := n.Content(); c != "" {
				contents = append(contents, c)
			}
		}
		prompt := fmt.Sprintf(o.prompts.PartialAnswer, strings.Join(contents, " "), query)
		partial, err := o.llm.Generate(ctx, o.prompts.PartialAnswerSystem, prompt)
		if err != nil {
			return "", fmt.Errorf("failed to generate partial answer: %w", err)
		}
		partials = append(partials, strings.TrimSpace(partial))
	}

	combined := fmt.Sprintf(o.prompts.CombineAnswers, strings.Join(partials, "\n---\n"), query)
	final, err := o.llm.Generate(ctx, o.prompts.CombineAnswersSystem, combined)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize answer: %w", err)
	}

	o.logger.Info("answered community query",
		zap.String("query", truncate(query, 50)),
		zap.Int("communities", len(ranked)))
	return strings.TrimSpace(final), nil
}

// UpdateKnowledge inserts the node into the backing store and the
// projection, then applies the rebuild policy: with RebuildEvery of 1
// every write triggers a full detect-and-summarize pass (cost grows with
// graph size); larger values batch rebuilds and queries catch up through
// EnsureFresh.
func (o *Organizer) UpdateKnowledge(ctx context.Context, label string, properties map[string]any) (*model.Node, error) {
	node, err := o.store.AddOrUpdateNode(ctx, label, properties)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	uninitialized := o.state == StateUninitialized
	o.mu.Unlock()
	if uninitialized {
		// First write bootstraps the projection; the store already holds
		// the new node at this point.
		if err := o.BuildGraphFromStore(ctx); err != nil {
			return node, err
		}
	}

	o.mu.Lock()
	o.nodes[node.ID] = *node
	o.version++
	o.pendingWrites++
	due := o.pendingWrites >= o.cfg.RebuildEvery
	o.mu.Unlock()

	if due {
		if err := o.Rebuild(ctx); err != nil {
			return node, fmt.Errorf("knowledge stored but rebuild failed: %w", err)
		}
	}
	return node, nil
}

// NoteWrite records a store mutation that bypassed UpdateKnowledge, such
// as a relationship write, so the rebuild policy counts it and the next
// query re-projects.
func (o *Organizer) NoteWrite() {
	o.mu.Lock()
	o.version++
	o.pendingWrites++
	o.mu.Unlock()
}

// Rebuild re-projects the graph from the store, then runs the full
// detect-and-summarize pass. Relationship writes land only in the store,
// so clustering must always start from a fresh projection.
func (o *Organizer) Rebuild(ctx context.Context) error {
	if err := o.BuildGraphFromStore(ctx); err != nil {
		return err
	}
	if _, err := o.DetectCommunities(); err != nil {
		return err
	}
	if err := o.SummarizeCommunities(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	o.pendingWrites = 0
	o.mu.Unlock()
	return nil
}

// EnsureFresh rebuilds derived state if writes are pending or nothing has
// been summarized yet, so queries never run against a half-applied view.
func (o *Organizer) EnsureFresh(ctx context.Context) error {
	o.mu.Lock()
	stale := o.pendingWrites > 0 || o.state < StateSummarized
	o.mu.Unlock()

	if stale {
		return o.Rebuild(ctx)
	}
	return nil
}

// Summaries returns a copy of the memoized community summaries.
func (o *Organizer) Summaries() map[int]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[int]string, len(o.summaries))
	for id, s := range o.summaries {
		out[id] = s
	}
	return out
}

// Assignments returns a copy of the node-to-community mapping.
func (o *Organizer) Assignments() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]int, len(o.assignments))
	for id, c := range o.assignments {
		out[id] = c
	}
	return out
}

func (o *Organizer) membersLocked() map[int][]model.Node {
	members := make(map[int][]model.Node)
	for id, communityID := range o.assignments {
		if node, ok := o.nodes[id]; ok {
			members[communityID] = append(members[communityID], node)
		}
	}
	for _, nodes := range members {
		sort.Slice(nodes, func(a, b int) bool { return nodes[a].ID < nodes[b].ID })
	}
	return members
}

func communityCount(assignments map[string]int) int {
	seen := make(map[int]struct{}, len(assignments))
	for _, c := range assignments {
		seen[c] = struct{}{}
	}
	return len(seen)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
