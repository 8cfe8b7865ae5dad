// Package neo4j implements the graph store holding users, facts and the
// typed relationships between them.
package neo4j

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/memory"
	apperrors "membank-backend/pkg/errors"
)

// Edge types
const (
	EdgeHasFact   = "HAS_FACT"
	EdgeRelatedTo = "RELATED_TO"
)

// GraphStore is the Neo4j-backed relationship store
type GraphStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraphStore creates the store on an existing driver
func NewGraphStore(driver neo4j.DriverWithContext, logger *zap.Logger) *GraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphStore{driver: driver, logger: logger}
}

var _ ports.GraphStore = (*GraphStore)(nil)

// InitConstraints ensures unique ids per label. Idempotent.
func (g *GraphStore) InitConstraints(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.user_id IS UNIQUE`,
		`CREATE CONSTRAINT fact_id_unique IF NOT EXISTS FOR (f:Fact) REQUIRE f.fact_id IS UNIQUE`,
	}
	for _, stmt := range statements {
		if err := g.write(ctx, stmt, nil); err != nil {
			return apperrors.Wrap(err, "failed to initialize graph constraints")
		}
	}
	return nil
}

// EnsureUser creates the user node if it does not exist
func (g *GraphStore) EnsureUser(ctx context.Context, userID string) error {
	err := g.write(ctx, `MERGE (u:User {user_id: $user_id})`, map[string]interface{}{
		"user_id": userID,
	})
	if err != nil {
		return apperrors.NewTransientError("failed to ensure user node", err)
	}
	return nil
}

// UpsertFact creates the fact node and its HAS_FACT edge from the owner
func (g *GraphStore) UpsertFact(ctx context.Context, fact *memory.Fact) error {
	err := g.write(ctx, `
		MATCH (u:User {user_id: $user_id})
		MERGE (f:Fact {fact_id: $fact_id})
		SET f.content = $content,
		    f.category = $category,
		    f.confidence = $confidence
		MERGE (u)-[:HAS_FACT]->(f)`,
		map[string]interface{}{
			"user_id":    fact.UserID,
			"fact_id":    fact.ID,
			"content":    fact.Content,
			"category":   string(fact.Category),
			"confidence": fact.Confidence,
		})
	if err != nil {
		return apperrors.NewTransientError("failed to upsert fact node", err)
	}
	return nil
}

// Link creates a typed edge between two facts
func (g *GraphStore) Link(ctx context.Context, sourceID, targetID, relType string, props map[string]interface{}) error {
	if relType == "" {
		relType = EdgeRelatedTo
	}
	if props == nil {
		props = map[string]interface{}{}
	}
	// Relationship types cannot be parameterised; only the known edge
	// types are interpolated.
	if relType != EdgeRelatedTo && relType != EdgeHasFact {
		return apperrors.NewValidationError("unknown relationship type: " + relType)
	}

	err := g.write(ctx, `
		MATCH (a:Fact {fact_id: $source_id})
		MATCH (b:Fact {fact_id: $target_id})
		MERGE (a)-[r:`+relType+`]->(b)
		SET r += $props`,
		map[string]interface{}{
			"source_id": sourceID,
			"target_id": targetID,
			"props":     props,
		})
	if err != nil {
		return apperrors.NewTransientError("failed to link facts", err)
	}
	return nil
}

// RelationsOf returns the one-hop outbound relations of a fact
func (g *GraphStore) RelationsOf(ctx context.Context, factID string) ([]ports.Relation, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Fact {fact_id: $fact_id})-[r]->(b:Fact)
			RETURN b.fact_id AS fact_id, type(r) AS rel_type, properties(r) AS props`,
			map[string]interface{}{"fact_id": factID})
		if err != nil {
			return nil, err
		}
		collected, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return collected, nil
	})
	if err != nil {
		return nil, apperrors.NewTransientError("failed to read fact relations", err)
	}

	var relations []ports.Relation
	for _, record := range records.([]*neo4j.Record) {
		rel := ports.Relation{}
		if v, ok := record.Get("fact_id"); ok {
			rel.FactID, _ = v.(string)
		}
		if v, ok := record.Get("rel_type"); ok {
			rel.Type, _ = v.(string)
		}
		if v, ok := record.Get("props"); ok {
			rel.Props, _ = v.(map[string]interface{})
		}
		relations = append(relations, rel)
	}
	return relations, nil
}

// DeleteFact removes a fact node and all its edges
func (g *GraphStore) DeleteFact(ctx context.Context, factID string) error {
	err := g.write(ctx, `
		MATCH (f:Fact {fact_id: $fact_id})
		DETACH DELETE f`,
		map[string]interface{}{"fact_id": factID})
	if err != nil {
		return apperrors.NewTransientError("failed to delete fact node", err)
	}
	return nil
}

// DeleteUser removes a user node and cascades to all owned facts
func (g *GraphStore) DeleteUser(ctx context.Context, userID string) error {
	err := g.write(ctx, `
		MATCH (u:User {user_id: $user_id})
		OPTIONAL MATCH (u)-[:HAS_FACT]->(f:Fact)
		DETACH DELETE u, f`,
		map[string]interface{}{"user_id": userID})
	if err != nil {
		return apperrors.NewTransientError("failed to delete user graph", err)
	}
	return nil
}

func (g *GraphStore) write(ctx context.Context, cypher string, params map[string]interface{}) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return nil, result.Err()
	})
	return err
}
