package driver

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jDriver talks Bolt to a Neo4j (or Neo4j-compatible) server.
type Neo4jDriver struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

func NewNeo4jDriver(uri, username, password string, logger *zap.Logger) (*Neo4jDriver, error) {
	d, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	nd := &Neo4jDriver{driver: d, logger: logger}
	if err := nd.VerifyConnectivity(context.Background()); err != nil {
		if IsAuthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	logger.Info("connected to graph database", zap.String("uri", uri))
	return nd, nil
}

func (d *Neo4jDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (d *Neo4jDriver) VerifyConnectivity(ctx context.Context) error {
	return d.driver.VerifyConnectivity(ctx)
}

func (d *Neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// BuildIndices creates the constraints and lookup indices the store relies
// on. Failures are logged and skipped since the index may already exist.
func (d *Neo4jDriver) BuildIndices(ctx context.Context, labels []string) error {
	for _, label := range labels {
		queries := []string{
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR (n:%s) ON (n.id)", label),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR (n:%s) ON (n.name)", label),
		}
		for _, q := range queries {
			if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
				d.logger.Warn("failed to create index", zap.String("query", q), zap.Error(err))
			}
		}
	}
	return nil
}
