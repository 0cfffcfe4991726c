package graph

// Cypher templates. The %s slot is a label or relationship type that has
// passed the identifier whitelist; every value is a bound parameter.
const (
	// MERGE on the composite (label, name) natural key is the atomic
	// conditional-create that prevents duplicate nodes when two upserts
	// race on the same key.
	UpsertNodeByNameQuery = `
		MERGE (n:%s {name: $name})
		ON CREATE SET n.id = $id
		SET n += $props
		RETURN n
	`

	UpsertNodeByIDQuery = `
		MERGE (n:%s {id: $id})
		SET n += $props
		RETURN n
	`

	// SET n = $props (no +=) drops stored properties absent from the
	// input; the surrogate id is captured and restored around it.
	ReplaceNodeByNameQuery = `
		MERGE (n:%s {name: $name})
		ON CREATE SET n.id = $id
		WITH n, n.id AS existing_id
		SET n = $props
		SET n.id = existing_id
		RETURN n
	`

	ReplaceNodeByIDQuery = `
		MERGE (n:%s {id: $id})
		SET n = $props
		SET n.id = $id
		RETURN n
	`

	CreateRelationshipQuery = `
		MATCH (a {id: $start_id})
		MATCH (b {id: $end_id})
		CREATE (a)-[r:%s]->(b)
		SET r += $props
		RETURN r, a.id AS start_id, b.id AS end_id
	`

	GetNodeQuery = `
		MATCH (n:%s)
		WHERE n.name = $key OR n.id = $key
		RETURN n
		LIMIT 1
	`

	GetNodesByLabelQuery = `
		MATCH (n:%s)
		RETURN n
	`

	GetAllNodesQuery = `
		MATCH (n)
		RETURN n
	`

	GetAllRelationshipsQuery = `
		MATCH (a)-[r]->(b)
		RETURN r, type(r) AS type, a.id AS start_id, b.id AS end_id
	`

	GetRelevantNodesQuery = `
		MATCH (n)
		WHERE n.content CONTAINS $text OR n.name CONTAINS $text
		RETURN n
		LIMIT $limit
	`

	GetRecentNodesByLabelQuery = `
		MATCH (n:%s)
		WHERE n.task CONTAINS $task
		RETURN n
		ORDER BY n.timestamp DESC
		LIMIT $limit
	`
)
