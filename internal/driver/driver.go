package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphDriver is the pattern-matching query boundary to the graph database.
// All user-supplied values travel as bound parameters, never interpolated
// into query text.
type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}
