// Package graph mirrors memory into Neo4j as a topic graph:
//
//	(:Source)-[:PRODUCED]->(:Knowledge)-[:ABOUT]->(:Topic)
//	(:Turn)-[:LEARNED]->(:Knowledge)
//
// Turns and facts written by the same task are linked, which lets
// RelatedTopics answer "what else came up alongside X".
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

var _ memory.Observer = (*Graph)(nil)

// Graph handles Neo4j operations for the topic graph.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// Related is a topic reached from another through shared turns.
type Related struct {
	Topic  string `json:"topic"`
	Shared int    `json:"shared"`
}

// New connects to Neo4j. An empty user disables authentication.
func New(ctx context.Context, uri, user, password string, logger *zap.Logger) (*Graph, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	g := &Graph{driver: driver, logger: logger}
	if err := g.ensureConstraints(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	logger.Info("neo4j connected", zap.String("uri", uri))
	return g, nil
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) ensureConstraints(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT topic_name IF NOT EXISTS FOR (t:Topic) REQUIRE t.name IS UNIQUE`,
		`CREATE CONSTRAINT knowledge_id IF NOT EXISTS FOR (k:Knowledge) REQUIRE k.id IS UNIQUE`,
		`CREATE CONSTRAINT turn_id IF NOT EXISTS FOR (t:Turn) REQUIRE t.id IS UNIQUE`,
	}
	for _, q := range stmts {
		if err := g.run(ctx, q, nil); err != nil {
			return fmt.Errorf("ensure constraints: %w", err)
		}
	}
	return nil
}

func (g *Graph) run(ctx context.Context, cypher string, params map[string]interface{}) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

// KnowledgeStored links a fact to its topic and source.
func (g *Graph) KnowledgeStored(ctx context.Context, e memory.KnowledgeEntry, _ []float32) error {
	taskID, _ := e.Metadata["task_id"].(string)
	err := g.run(ctx,
		`MERGE (t:Topic {name: $topic})
		 MERGE (s:Source {name: $source})
		 MERGE (k:Knowledge {id: $id})
		 SET k.content = $content, k.confidence = $confidence,
		     k.task_id = $taskId, k.created_at = $createdAt
		 MERGE (k)-[:ABOUT]->(t)
		 MERGE (s)-[:PRODUCED]->(k)`,
		map[string]interface{}{
			"topic":      normalizeTopic(e.Topic),
			"source":     e.Source,
			"id":         e.ID,
			"content":    e.Content,
			"confidence": e.Confidence,
			"taskId":     taskID,
			"createdAt":  e.Timestamp,
		})
	if err != nil {
		return fmt.Errorf("graph knowledge %d: %w", e.ID, err)
	}
	return nil
}

// ConversationStored records the turn and links it to the facts its task
// produced. Facts are committed before the turn, so they already exist.
func (g *Graph) ConversationStored(ctx context.Context, c memory.ConversationEntry, _ []float32) error {
	taskID, _ := c.Metadata["task_id"].(string)
	err := g.run(ctx,
		`MERGE (t:Turn {id: $id})
		 SET t.query = $query, t.task_id = $taskId, t.created_at = $createdAt
		 WITH t
		 OPTIONAL MATCH (k:Knowledge {task_id: $taskId})
		 WHERE $taskId <> ''
		 FOREACH (_ IN CASE WHEN k IS NULL THEN [] ELSE [1] END |
		     MERGE (t)-[:LEARNED]->(k))`,
		map[string]interface{}{
			"id":        c.ID,
			"query":     c.Query,
			"taskId":    taskID,
			"createdAt": c.Timestamp,
		})
	if err != nil {
		return fmt.Errorf("graph turn %d: %w", c.ID, err)
	}
	return nil
}

// AgentStateUpdated is a no-op; agent state is not part of the graph.
func (g *Graph) AgentStateUpdated(context.Context, memory.AgentState) error { return nil }

// Cleared removes every node the graph owns.
func (g *Graph) Cleared(ctx context.Context) error {
	err := g.run(ctx,
		`MATCH (n) WHERE n:Topic OR n:Knowledge OR n:Turn OR n:Source
		 DETACH DELETE n`, nil)
	if err != nil {
		return fmt.Errorf("graph clear: %w", err)
	}
	return nil
}

// RelatedTopics returns topics that share turns with topic, most shared
// first.
func (g *Graph) RelatedTopics(ctx context.Context, topic string, limit int) ([]Related, error) {
	if limit <= 0 {
		limit = 10
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Topic {name: $topic})<-[:ABOUT]-(:Knowledge)<-[:LEARNED]-(turn:Turn)
		 MATCH (turn)-[:LEARNED]->(:Knowledge)-[:ABOUT]->(other:Topic)
		 WHERE other.name <> $topic
		 RETURN other.name AS name, count(DISTINCT turn) AS shared
		 ORDER BY shared DESC, name ASC LIMIT $limit`,
		map[string]interface{}{"topic": normalizeTopic(topic), "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("related topics: %w", err)
	}

	var out []Related
	for result.Next(ctx) {
		rec := result.Record()
		name, _ := rec.Get("name")
		shared, _ := rec.Get("shared")
		n, _ := shared.(int64)
		s, _ := name.(string)
		out = append(out, Related{Topic: s, Shared: int(n)})
	}
	return out, result.Err()
}

// TopicFacts returns the contents of facts about topic, newest first.
func (g *Graph) TopicFacts(ctx context.Context, topic string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Topic {name: $topic})<-[:ABOUT]-(k:Knowledge)
		 RETURN k.content AS content
		 ORDER BY k.created_at DESC LIMIT $limit`,
		map[string]interface{}{"topic": normalizeTopic(topic), "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("topic facts: %w", err)
	}
	var out []string
	for result.Next(ctx) {
		c, _ := result.Record().Get("content")
		if s, ok := c.(string); ok {
			out = append(out, s)
		}
	}
	return out, result.Err()
}

func normalizeTopic(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
