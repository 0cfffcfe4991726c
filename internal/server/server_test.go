package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemolab/recall/internal/config"
	"github.com/mnemolab/recall/internal/core"
	"github.com/mnemolab/recall/internal/core/model"
	"github.com/mnemolab/recall/internal/embedding"
)

type stubStore struct {
	lastTask  string
	lastLimit int
}

func (s *stubStore) AddRelationship(ctx context.Context, startID, endID, relType string, properties map[string]any) (*model.Relationship, error) {
	return &model.Relationship{Type: relType, StartID: startID, EndID: endID}, nil
}

func (s *stubStore) GetNode(ctx context.Context, label, key string) (*model.Node, error) {
	return nil, fmt.Errorf("node not found")
}

func (s *stubStore) GetAllNodes(ctx context.Context, label string) ([]model.Node, error) {
	return nil, nil
}

func (s *stubStore) FindRelevant(ctx context.Context, text string, limit int) ([]model.Node, error) {
	return nil, nil
}

func (s *stubStore) RecentByLabel(ctx context.Context, label, task string, limit int) ([]model.Node, error) {
	s.lastTask = task
	s.lastLimit = limit
	return []model.Node{{ID: "ep-1", Label: label}}, nil
}

type stubOrganizer struct{}

func (stubOrganizer) UpdateKnowledge(ctx context.Context, label string, properties map[string]any) (*model.Node, error) {
	return &model.Node{ID: "n-1", Label: label, Properties: properties}, nil
}

func (stubOrganizer) NoteWrite() {}

func (stubOrganizer) QueryCommunities(ctx context.Context, query string) (string, error) {
	return "", nil
}

func (stubOrganizer) Rebuild(ctx context.Context) error { return nil }

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func testServer(t *testing.T) (*Server, *stubStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cache, err := embedding.NewCache(t.TempDir() + "/cache.json")
	require.NoError(t, err)
	index := embedding.NewIndex(stubEmbedder{}, cache, zap.NewNop())

	store := &stubStore{}
	kb := core.NewKnowledgeBase(store, stubOrganizer{}, index, stubLLM{}, config.Default().Prompts, zap.NewNop())
	return &Server{Knowledge: kb, logger: zap.NewNop()}, store
}

func TestRecallEpisodesDefaultLimit(t *testing.T) {
	srv, store := testServer(t)
	router := srv.SetupRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/episodes?task=deploy", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "deploy", store.lastTask)
	assert.Equal(t, 5, store.lastLimit)
}

func TestRecallEpisodesCustomLimit(t *testing.T) {
	srv, store := testServer(t)
	router := srv.SetupRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/episodes?task=deploy&limit=2", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, store.lastLimit)
}

func TestRecallEpisodesInvalidLimit(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.SetupRouter()

	for _, limit := range []string{"abc", "0", "-3"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/episodes?limit="+limit, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
}
