package community

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemolab/recall/internal/config"
	"github.com/mnemolab/recall/internal/core/model"
	"github.com/mnemolab/recall/internal/embedding"
)

type fakeSource struct {
	nodes   map[string]model.Node
	rels    []model.Relationship
	nodeErr error
	upserts int
}

func newFakeSource() *fakeSource {
	return &fakeSource{nodes: make(map[string]model.Node)}
}

func (f *fakeSource) addNode(id, label, content string) {
	f.nodes[id] = model.Node{ID: id, Label: label, Properties: map[string]any{"name": id, "content": content}}
}

func (f *fakeSource) addRel(start, end string) {
	f.rels = append(f.rels, model.Relationship{ID: fmt.Sprintf("r%d", len(f.rels)), Type: "RELATES_TO", StartID: start, EndID: end})
}

func (f *fakeSource) GetAllNodes(ctx context.Context, label string) ([]model.Node, error) {
	if f.nodeErr != nil {
		return nil, f.nodeErr
	}
	out := make([]model.Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		if label == "" || n.Label == label {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeSource) AllRelationships(ctx context.Context) ([]model.Relationship, error) {
	return f.rels, nil
}

func (f *fakeSource) AddOrUpdateNode(ctx context.Context, label string, properties map[string]any) (*model.Node, error) {
	f.upserts++
	name, _ := properties["name"].(string)
	node := model.Node{ID: name, Label: label, Properties: properties}
	f.nodes[name] = node
	return &node, nil
}

type queuedLLM struct {
	responses []string
	prompts   []string
	err       error
}

func (q *queuedLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.prompts = append(q.prompts, userPrompt)
	if len(q.responses) == 0 {
		return "default response", nil
	}
	resp := q.responses[0]
	q.responses = q.responses[1:]
	return resp, nil
}

// keywordEmbedder maps texts onto axes by keyword so cosine similarity in
// tests is predictable: texts sharing a keyword are identical vectors,
// others orthogonal.
type keywordEmbedder struct {
	axes map[string]int
}

func (k *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(k.axes)+1)
	for keyword, axis := range k.axes {
		if strings.Contains(strings.ToLower(text), keyword) {
			vec[axis] = 1
			return vec, nil
		}
	}
	vec[len(k.axes)] = 1
	return vec, nil
}

func testIndex(t *testing.T, embedder *keywordEmbedder) *embedding.Index {
	t.Helper()
	cache, err := embedding.NewCache(t.TempDir() + "/cache.json")
	require.NoError(t, err)
	return embedding.NewIndex(embedder, cache, zap.NewNop())
}

func testOrganizer(t *testing.T, store *fakeSource, client *queuedLLM, embedder *keywordEmbedder) *Organizer {
	t.Helper()
	cfg := config.Default()
	return NewOrganizer(store, testIndex(t, embedder), client, cfg.Community, cfg.Prompts, zap.NewNop())
}

func twoClusterSource() *fakeSource {
	store := newFakeSource()
	store.addNode("go1", "Concept", "goroutines are lightweight threads")
	store.addNode("go2", "Concept", "channels synchronize goroutines")
	store.addNode("go3", "Concept", "select waits on goroutine channels")
	store.addNode("db1", "Concept", "cypher queries match graph patterns")
	store.addNode("db2", "Concept", "graph databases store relationships")
	store.addNode("db3", "Concept", "merge clauses upsert graph nodes")
	store.addRel("go1", "go2")
	store.addRel("go2", "go3")
	store.addRel("go3", "go1")
	store.addRel("db1", "db2")
	store.addRel("db2", "db3")
	store.addRel("db3", "db1")
	return store
}

func TestBuildGraphFromStore(t *testing.T) {
	store := twoClusterSource()
	org := testOrganizer(t, store, &queuedLLM{}, &keywordEmbedder{axes: map[string]int{}})

	require.NoError(t, org.BuildGraphFromStore(context.Background()))
	assert.Equal(t, StateBuilt, org.State())
}

func TestBuildGraphFromStoreError(t *testing.T) {
	store := newFakeSource()
	store.nodeErr = fmt.Errorf("connection lost")
	org := testOrganizer(t, store, &queuedLLM{}, &keywordEmbedder{axes: map[string]int{}})

	err := org.BuildGraphFromStore(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, org.State())
}

func TestDetectCommunitiesRequiresBuild(t *testing.T) {
	org := testOrganizer(t, newFakeSource(), &queuedLLM{}, &keywordEmbedder{axes: map[string]int{}})
	_, err := org.DetectCommunities()
	assert.Error(t, err)
}

func TestDetectCommunitiesSplitsClusters(t *testing.T) {
	store := twoClusterSource()
	org := testOrganizer(t, store, &queuedLLM{}, &keywordEmbedder{axes: map[string]int{}})
	require.NoError(t, org.BuildGraphFromStore(context.Background()))

	assignments, err := org.DetectCommunities()
	require.NoError(t, err)
	assert.Equal(t, assignments["go1"], assignments["go2"])
	assert.Equal(t, assignments["db1"], assignments["db2"])
	assert.NotEqual(t, assignments["go1"], assignments["db1"])
	assert.Equal(t, StateClustered, org.State())
}

func TestSummarizeCommunities(t *testing.T) {
	store := twoClusterSource()
	client := &queuedLLM{responses: []string{"summary one", "summary two"}}
	org := testOrganizer(t, store, client, &keywordEmbedder{axes: map[string]int{}})
	require.NoError(t, org.BuildGraphFromStore(context.Background()))
	_, err := org.DetectCommunities()
	require.NoError(t, err)

	require.NoError(t, org.SummarizeCommunities(context.Background()))
	assert.Equal(t, StateSummarized, org.State())

	summaries := org.Summaries()
	require.Len(t, summaries, 2)
	assert.ElementsMatch(t, []string{"summary one", "summary two"},
		[]string{summaries[0], summaries[1]})
	// Derived summaries land back in the store as CommunitySummary nodes.
	assert.Equal(t, 2, store.upserts)
}

func TestSummarizeFailureKeepsOldSummaries(t *testing.T) {
	store := twoClusterSource()
	client := &queuedLLM{responses: []string{"summary one", "summary two"}}
	org := testOrganizer(t, store, client, &keywordEmbedder{axes: map[string]int{}})
	require.NoError(t, org.BuildGraphFromStore(context.Background()))
	_, err := org.DetectCommunities()
	require.NoError(t, err)
	require.NoError(t, org.SummarizeCommunities(context.Background()))

	_, err = org.DetectCommunities()
	require.NoError(t, err)
	// Detection invalidates the memo.
	assert.Empty(t, org.Summaries())

	client.err = fmt.Errorf("rate limited")
	err = org.SummarizeCommunities(context.Background())
	require.Error(t, err)
	assert.Empty(t, org.Summaries())
	assert.Equal(t, StateClustered, org.State())
}

func TestRankCommunitiesThresholdAndOrder(t *testing.T) {
	store := twoClusterSource()
	embedder := &keywordEmbedder{axes: map[string]int{"goroutine": 0, "graph": 1}}
	client := &queuedLLM{responses: []string{
		"goroutines and channels in concurrent programs",
		"graph databases and cypher",
	}}
	org := testOrganizer(t, store, client, embedder)
	require.NoError(t, org.BuildGraphFromStore(context.Background()))
	_, err := org.DetectCommunities()
	require.NoError(t, err)
	require.NoError(t, org.SummarizeCommunities(context.Background()))

	ranked, err := org.RankCommunities(context.Background(), "how do goroutines work")
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Contains(t, ranked[0].Summary, "goroutines")
	assert.InDelta(t, 1.0, ranked[0].Similarity, 1e-9)
}

func TestQueryCommunitiesTwoStage(t *testing.T) {
	store := twoClusterSource()
	embedder := &keywordEmbedder{axes: map[string]int{"goroutine": 0, "graph": 1}}
	client := &queuedLLM{responses: []string{
		"goroutines summary",
		"graph summary",
		"partial: use channels",
		"final: channels coordinate goroutines",
	}}
	org := testOrganizer(t, store, client, embedder)

	answer, err := org.QueryCommunities(context.Background(), "how do goroutines communicate")
	require.NoError(t, err)
	assert.Equal(t, "final: channels coordinate goroutines", answer)

	// Last prompt is the synthesis call carrying the partial answer.
	last := client.prompts[len(client.prompts)-1]
	assert.Contains(t, last, "partial: use channels")
}

func TestQueryCommunitiesNoMatch(t *testing.T) {
	store := twoClusterSource()
	embedder := &keywordEmbedder{axes: map[string]int{"goroutine": 0, "graph": 1}}
	client := &queuedLLM{responses: []string{"goroutines summary", "graph summary"}}
	org := testOrganizer(t, store, client, embedder)

	answer, err := org.QueryCommunities(context.Background(), "recipe for sourdough bread")
	require.NoError(t, err)
	assert.Empty(t, answer)
	// Only the two summary calls ran; no partial or synthesis prompts.
	assert.Len(t, client.prompts, 2)
}

func TestUpdateKnowledgeRebuildPolicy(t *testing.T) {
	store := twoClusterSource()
	client := &queuedLLM{}
	org := testOrganizer(t, store, client, &keywordEmbedder{axes: map[string]int{}})
	require.NoError(t, org.BuildGraphFromStore(context.Background()))
	org.cfg.RebuildEvery = 3

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := org.UpdateKnowledge(ctx, "Concept", map[string]any{"name": fmt.Sprintf("new%d", i)})
		require.NoError(t, err)
	}
	// Two writes below the batch size: no rebuild yet.
	assert.Empty(t, org.Summaries())

	_, err := org.UpdateKnowledge(ctx, "Concept", map[string]any{"name": "new2"})
	require.NoError(t, err)
	assert.Equal(t, StateSummarized, org.State())
	assert.NotEmpty(t, org.Summaries())
}

func TestRebuildPicksUpRelationshipWrites(t *testing.T) {
	store := newFakeSource()
	org := testOrganizer(t, store, &queuedLLM{}, &keywordEmbedder{axes: map[string]int{}})
	org.cfg.RebuildEvery = 100

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := org.UpdateKnowledge(ctx, "Concept", map[string]any{"name": name, "content": name})
		require.NoError(t, err)
	}
	// Edges written after the first projection exist only in the store.
	store.addRel("a", "b")
	store.addRel("b", "c")
	store.addRel("c", "a")

	require.NoError(t, org.Rebuild(ctx))
	assignments := org.Assignments()
	assert.Equal(t, assignments["a"], assignments["b"])
	assert.Equal(t, assignments["b"], assignments["c"])
	assert.NotEqual(t, assignments["a"], assignments["d"])
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	assert.Equal(t, "héllo...", truncate("héllo wörld", 5))
	assert.Equal(t, "short", truncate("short", 50))
}

func TestUpdateKnowledgeBumpsVersion(t *testing.T) {
	store := newFakeSource()
	org := testOrganizer(t, store, &queuedLLM{}, &keywordEmbedder{axes: map[string]int{}})
	org.cfg.RebuildEvery = 100

	before := org.Version()
	_, err := org.UpdateKnowledge(context.Background(), "Concept", map[string]any{"name": "n1"})
	require.NoError(t, err)
	assert.Equal(t, before+1, org.Version())
}

func TestEnsureFreshBootstraps(t *testing.T) {
	store := twoClusterSource()
	client := &queuedLLM{responses: []string{"s1", "s2"}}
	org := testOrganizer(t, store, client, &keywordEmbedder{axes: map[string]int{}})

	require.NoError(t, org.EnsureFresh(context.Background()))
	assert.Equal(t, StateSummarized, org.State())

	// Fresh state short-circuits: no further generation calls.
	calls := len(client.prompts)
	require.NoError(t, org.EnsureFresh(context.Background()))
	assert.Len(t, client.prompts, calls)
}

func TestNoteWriteMarksStale(t *testing.T) {
	store := twoClusterSource()
	client := &queuedLLM{}
	org := testOrganizer(t, store, client, &keywordEmbedder{axes: map[string]int{}})
	require.NoError(t, org.EnsureFresh(context.Background()))
	calls := len(client.prompts)

	org.NoteWrite()
	require.NoError(t, org.EnsureFresh(context.Background()))
	assert.Greater(t, len(client.prompts), calls)
}
