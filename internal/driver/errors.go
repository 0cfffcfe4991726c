package driver

import (
	"errors"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
)

// Error taxonomy for the storage boundary. Connectivity failures are
// retryable with bounded backoff; auth failures are fatal and surface
// immediately.
var (
	ErrConnectivity    = errors.New("graph database unreachable")
	ErrAuth            = errors.New("graph database authentication failed")
	ErrNotFound        = errors.New("node not found")
	ErrMissingEndpoint = errors.New("relationship endpoint does not exist")
)

// IsAuthError reports whether err is a permanent security failure that must
// not be retried.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuth) {
		return true
	}
	var neoErr *db.Neo4jError
	if errors.As(err, &neoErr) {
		return strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security")
	}
	return false
}

// IsTransient reports whether err is worth retrying. Auth errors are never
// transient even when the server marks them retryable.
func IsTransient(err error) bool {
	if err == nil || IsAuthError(err) {
		return false
	}
	if errors.Is(err, ErrConnectivity) {
		return true
	}
	return neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err)
}
