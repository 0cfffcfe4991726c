//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemolab/recall/internal/config"
	"github.com/mnemolab/recall/internal/core/model"
	"github.com/mnemolab/recall/internal/core/transfer"
	"github.com/mnemolab/recall/internal/driver"
	"github.com/mnemolab/recall/internal/graph"
)

// Requires a running Neo4j/Memgraph. Set NEO4J_URI (plus NEO4J_USER and
// NEO4J_PASSWORD if auth is enabled) and run with -tags integration.
func setupStore(t *testing.T) (*graph.Store, driver.GraphDriver) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set, skipping integration test")
	}

	cfg := config.Default()
	cfg.Neo4j.URI = uri
	cfg.Neo4j.User = os.Getenv("NEO4J_USER")
	cfg.Neo4j.Password = os.Getenv("NEO4J_PASSWORD")

	logger := zap.NewNop()
	d, err := driver.NewNeo4jDriver(cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, logger)
	require.NoError(t, err)

	retrying := driver.NewRetryingDriver(d, driver.DefaultRetryConfig(), logger)
	return graph.NewStore(retrying, logger), d
}

func TestStoreRoundTrip(t *testing.T) {
	store, d := setupStore(t)
	defer d.Close(context.Background())
	ctx := context.Background()

	label := "IntegrationConcept"
	name := fmt.Sprintf("concept-%s", uuid.New().String())
	defer func() {
		_, _ = d.ExecuteQuery(ctx, fmt.Sprintf(`MATCH (n:%s) DETACH DELETE n`, label), nil)
	}()

	created, err := store.AddOrUpdateNode(ctx, label, map[string]any{
		"name":    name,
		"content": "first pass",
		"nested":  map[string]any{"depth": 2},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	// Second upsert with the same name must hit the same node.
	updated, err := store.AddOrUpdateNode(ctx, label, map[string]any{
		"name":    name,
		"content": "second pass",
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	fetched, err := store.GetNode(ctx, label, name)
	require.NoError(t, err)
	assert.Equal(t, "second pass", fetched.Properties["content"])
	// Nested property survives the tagged encoding.
	nested, ok := fetched.Properties["nested"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, nested["depth"])
}

func TestRelationshipEndpoints(t *testing.T) {
	store, d := setupStore(t)
	defer d.Close(context.Background())
	ctx := context.Background()

	label := "IntegrationConcept"
	defer func() {
		_, _ = d.ExecuteQuery(ctx, fmt.Sprintf(`MATCH (n:%s) DETACH DELETE n`, label), nil)
	}()

	a, err := store.AddOrUpdateNode(ctx, label, map[string]any{"name": "rel-a-" + uuid.New().String()})
	require.NoError(t, err)
	b, err := store.AddOrUpdateNode(ctx, label, map[string]any{"name": "rel-b-" + uuid.New().String()})
	require.NoError(t, err)

	rel, err := store.AddRelationship(ctx, a.ID, b.ID, "RELATES_TO", map[string]any{"weight": 1.0})
	require.NoError(t, err)
	assert.Equal(t, a.ID, rel.StartID)
	assert.Equal(t, b.ID, rel.EndID)

	// Missing endpoint refuses to create.
	_, err = store.AddRelationship(ctx, a.ID, uuid.New().String(), "RELATES_TO", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrMissingEndpoint)
}

func TestExportImportRoundTrip(t *testing.T) {
	store, d := setupStore(t)
	defer d.Close(context.Background())
	ctx := context.Background()

	label := "IntegrationExport"
	defer func() {
		_, _ = d.ExecuteQuery(ctx, fmt.Sprintf(`MATCH (n:%s) DETACH DELETE n`, label), nil)
	}()

	tr := transfer.NewTransferer(store, store, zap.NewNop())

	a, err := store.AddOrUpdateNode(ctx, label, map[string]any{"name": "exp-a", "content": "alpha"})
	require.NoError(t, err)
	b, err := store.AddOrUpdateNode(ctx, label, map[string]any{"name": "exp-b", "content": "beta"})
	require.NoError(t, err)
	_, err = store.AddRelationship(ctx, a.ID, b.ID, "RELATES_TO", nil)
	require.NoError(t, err)

	snapshot, err := tr.ExportSubset(ctx, []string{label})
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotVersion, snapshot.Version)
	assert.Len(t, snapshot.Nodes, 2)
	assert.Len(t, snapshot.Relationships, 1)

	// Re-import under skip_existing: everything already present.
	report, err := tr.ImportSubset(ctx, snapshot, model.MergeSkipExisting)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Imported)
	assert.Equal(t, 2, report.Skipped)
}
