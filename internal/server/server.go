package server

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mnemolab/recall/internal/config"
	"github.com/mnemolab/recall/internal/core"
	"github.com/mnemolab/recall/internal/core/community"
	"github.com/mnemolab/recall/internal/core/model"
	"github.com/mnemolab/recall/internal/core/transfer"
	"github.com/mnemolab/recall/internal/driver"
	"github.com/mnemolab/recall/internal/embedding"
	"github.com/mnemolab/recall/internal/graph"
	"github.com/mnemolab/recall/internal/llm"
	"github.com/mnemolab/recall/internal/logging"
)

// indexedLabels get a name index created at startup.
var indexedLabels = []string{"Concept", "TaskResult", "Episode", "CommunitySummary"}

type Server struct {
	Knowledge  *core.KnowledgeBase
	Transferer *transfer.Transferer
	logger     *zap.Logger
}

func NewServer() *Server {
	logger, err := logging.New(os.Getenv("DEBUG") != "")
	if err != nil {
		panic(err)
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("could not load config file, using defaults", zap.String("path", cfgPath), zap.Error(err))
		cfg = config.Default()
	}
	applyEnvOverrides(cfg)

	d, err := driver.NewNeo4jDriver(cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, logger)
	if err != nil {
		logger.Fatal("failed to connect to graph database", zap.Error(err))
	}
	ctx := context.Background()
	if err := d.BuildIndices(ctx, indexedLabels); err != nil {
		logger.Warn("failed to build indices", zap.Error(err))
	}

	retryCfg := driver.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
	}
	retrying := driver.NewRetryingDriver(d, retryCfg, logger)

	llmClient, embedderClient, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		logger.Fatal("failed to initialize LLM client", zap.Error(err))
	}

	cache, err := embedding.NewCache(cfg.Embedding.CachePath)
	if err != nil {
		logger.Fatal("failed to open embedding cache", zap.Error(err))
	}
	index := embedding.NewIndex(embedderClient, cache, logger)

	store := graph.NewStore(retrying, logger)
	organizer := community.NewOrganizer(store, index, llmClient, cfg.Community, cfg.Prompts, logger)
	kb := core.NewKnowledgeBase(store, organizer, index, llmClient, cfg.Prompts, logger)
	tr := transfer.NewTransferer(store, store, logger)

	return &Server{Knowledge: kb, Transferer: tr, logger: logger}
}

func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("NEO4J_URI"); v != "" {
		cfg.Neo4j.URI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" {
		cfg.Neo4j.User = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		cfg.Neo4j.Password = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
		cfg.LLM.Model = "gpt-oss:latest"
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.POST("/nodes", s.AddNode)
	r.GET("/nodes/:label", s.ListNodes)
	r.GET("/nodes/:label/:key", s.GetNode)
	r.POST("/relationships", s.AddRelationship)
	r.POST("/tasks", s.AddTaskResult)
	r.POST("/episodes", s.StoreEpisode)
	r.GET("/episodes", s.RecallEpisodes)
	r.POST("/suggestions", s.AddSuggestion)
	r.POST("/knowledge/search", s.SearchKnowledge)
	r.POST("/communities/query", s.QueryCommunities)
	r.POST("/communities/rebuild", s.RebuildCommunities)
	r.POST("/knowledge/export", s.ExportKnowledge)
	r.POST("/knowledge/import", s.ImportKnowledge)
	r.POST("/knowledge/compare", s.CompareKnowledge)
	r.POST("/knowledge/merge", s.MergeKnowledge)

	return r
}

type AddNodeRequest struct {
	Label      string         `json:"label" binding:"required"`
	Properties map[string]any `json:"properties" binding:"required"`
}

func (s *Server) AddNode(c *gin.Context) {
	var req AddNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	node, err := s.Knowledge.AddOrUpdateNode(c.Request.Context(), req.Label, req.Properties)
	if err != nil {
		s.logger.Error("failed to add node", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store node"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node})
}

func (s *Server) ListNodes(c *gin.Context) {
	label := c.Param("label")
	if label == "all" {
		label = ""
	}
	nodes, err := s.Knowledge.GetAllNodes(c.Request.Context(), label)
	if err != nil {
		s.logger.Error("failed to list nodes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list nodes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (s *Server) GetNode(c *gin.Context) {
	node, err := s.Knowledge.GetNode(c.Request.Context(), c.Param("label"), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Node not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node})
}

type AddRelationshipRequest struct {
	StartID    string         `json:"start_id" binding:"required"`
	EndID      string         `json:"end_id" binding:"required"`
	Type       string         `json:"type" binding:"required"`
	Properties map[string]any `json:"properties"`
}

func (s *Server) AddRelationship(c *gin.Context) {
	var req AddRelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	rel, err := s.Knowledge.AddRelationship(c.Request.Context(), req.StartID, req.EndID, req.Type, req.Properties)
	if err != nil {
		s.logger.Error("failed to add relationship", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store relationship"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": rel})
}

type AddTaskResultRequest struct {
	Task   string  `json:"task" binding:"required"`
	Result string  `json:"result" binding:"required"`
	Score  float64 `json:"score"`
}

func (s *Server) AddTaskResult(c *gin.Context) {
	var req AddTaskResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	node, err := s.Knowledge.AddTaskResult(c.Request.Context(), req.Task, req.Result, req.Score)
	if err != nil {
		s.logger.Error("failed to add task result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store task result"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node})
}

func (s *Server) StoreEpisode(c *gin.Context) {
	var taskContext map[string]any
	if err := c.ShouldBindJSON(&taskContext); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	node, err := s.Knowledge.StoreEpisode(c.Request.Context(), taskContext)
	if err != nil {
		s.logger.Error("failed to store episode", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store episode"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node})
}

func (s *Server) RecallEpisodes(c *gin.Context) {
	limit := 5
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	episodes := s.Knowledge.RecallEpisodes(c.Request.Context(), c.Query("task"), limit)
	c.JSON(http.StatusOK, gin.H{"episodes": episodes})
}

type SuggestionRequest struct {
	Suggestion string `json:"suggestion" binding:"required"`
}

func (s *Server) AddSuggestion(c *gin.Context) {
	var req SuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	node, err := s.Knowledge.AddImprovementSuggestion(c.Request.Context(), req.Suggestion)
	if err != nil {
		s.logger.Error("failed to add suggestion", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store suggestion"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node})
}

type SearchRequest struct {
	Text string `json:"text" binding:"required"`
	K    int    `json:"k"`
}

func (s *Server) SearchKnowledge(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	relevant := s.Knowledge.GetRelevantKnowledge(c.Request.Context(), req.Text)
	var similar []model.Node
	if req.K > 0 {
		similar = s.Knowledge.FindSimilarKnowledge(c.Request.Context(), req.Text, req.K)
	}
	c.JSON(http.StatusOK, gin.H{"relevant": relevant, "similar": similar})
}

type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

func (s *Server) QueryCommunities(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	answer := s.Knowledge.QueryCommunities(c.Request.Context(), req.Query)
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func (s *Server) RebuildCommunities(c *gin.Context) {
	if err := s.Knowledge.RebuildCommunities(c.Request.Context()); err != nil {
		s.logger.Error("failed to rebuild communities", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rebuild communities"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type ExportRequest struct {
	Labels []string `json:"labels"`
	// Subset switches to the versioned bundle format with relationships.
	Subset bool `json:"subset"`
}

func (s *Server) ExportKnowledge(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if req.Subset {
		snapshot, err := s.Transferer.ExportSubset(c.Request.Context(), req.Labels)
		if err != nil {
			s.logger.Error("failed to export subset", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"snapshot": snapshot})
		return
	}

	nodes, err := s.Transferer.ExportKnowledge(c.Request.Context(), req.Labels)
	if err != nil {
		s.logger.Error("failed to export knowledge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

type ImportRequest struct {
	Nodes    []model.Node        `json:"nodes"`
	Snapshot *model.Snapshot     `json:"snapshot"`
	Strategy model.MergeStrategy `json:"strategy"`
}

func (s *Server) ImportKnowledge(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if req.Snapshot != nil {
		strategy := req.Strategy
		if strategy == "" {
			strategy = model.MergeUpdate
		}
		report, err := s.Transferer.ImportSubset(c.Request.Context(), req.Snapshot, strategy)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"report": report})
		return
	}

	report, err := s.Transferer.ImportKnowledge(c.Request.Context(), req.Nodes)
	if err != nil {
		s.logger.Error("failed to import knowledge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to import"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

type CompareRequest struct {
	Snapshot *model.Snapshot `json:"snapshot" binding:"required"`
}

func (s *Server) CompareKnowledge(c *gin.Context) {
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	comparison, err := s.Transferer.CompareSnapshot(c.Request.Context(), req.Snapshot)
	if err != nil {
		s.logger.Error("failed to compare knowledge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compare"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"comparison": comparison})
}

type MergeRequest struct {
	Snapshot *model.Snapshot     `json:"snapshot" binding:"required"`
	Strategy model.MergeStrategy `json:"strategy"`
}

func (s *Server) MergeKnowledge(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = model.MergeFields
	}
	report, err := s.Transferer.ImportSubset(c.Request.Context(), req.Snapshot, strategy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
