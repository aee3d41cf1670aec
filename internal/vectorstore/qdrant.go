// Package vectorstore replicates the in-process vector index into Qdrant
// so embeddings survive restarts and can be inspected externally.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/vectorindex"
)

// DefaultCollection is used when the config leaves the name empty.
const DefaultCollection = "mnemo_memory"

// pointSpace namespaces the deterministic point ids.
var pointSpace = uuid.MustParse("6f1c3c1e-8f0a-4d64-9a57-0d2b1f4e7a10")

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// DropCollection deletes the named collection.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	if _, err := c.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	return nil
}

// Upsert inserts or updates a single point in the given collection.
func (c *Client) Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]string) error {
	payloadMap := make(map[string]*pb.Value)
	for k, v := range payload {
		payloadMap[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payloadMap,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nil
}

// Search performs a nearest-neighbor search and returns the top-K results.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]*SearchResult, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload := make(map[string]string)
		for k, v := range r.Payload {
			if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
				payload[k] = sv.StringValue
			}
		}
		results = append(results, &SearchResult{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: payload,
		})
	}
	return results, nil
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	ID      string            `json:"id"`
	Score   float32           `json:"score"`
	Payload map[string]string `json:"payload"`
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Replica mirrors memory vectors into one Qdrant collection. The collection
// is created on the first vector, sized to it.
type Replica struct {
	client     *Client
	collection string
	logger     *zap.Logger

	mu        sync.Mutex
	dimension int
}

var _ memory.Observer = (*Replica)(nil)

// NewReplica creates a replica writing to collection.
func NewReplica(client *Client, collection string, logger *zap.Logger) *Replica {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Replica{client: client, collection: collection, logger: logger}
}

// PointID is the deterministic Qdrant id of a memory entry.
func PointID(kind vectorindex.Kind, entryID int64) string {
	return uuid.NewSHA1(pointSpace, []byte(string(kind)+":"+strconv.FormatInt(entryID, 10))).String()
}

func (r *Replica) ensure(ctx context.Context, dim int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dimension == dim {
		return nil
	}
	if r.dimension != 0 {
		return fmt.Errorf("%w: replica has %d, got %d", vectorindex.ErrDimensionMismatch, r.dimension, dim)
	}
	if err := r.client.EnsureCollection(ctx, r.collection, uint64(dim)); err != nil {
		return err
	}
	r.dimension = dim
	return nil
}

func (r *Replica) upsert(ctx context.Context, kind vectorindex.Kind, entryID int64, vector []float32, payload map[string]string) error {
	if len(vector) == 0 {
		return nil
	}
	if err := r.ensure(ctx, len(vector)); err != nil {
		return err
	}
	payload["kind"] = string(kind)
	payload["entry_id"] = strconv.FormatInt(entryID, 10)
	return r.client.Upsert(ctx, r.collection, PointID(kind, entryID), vector, payload)
}

// KnowledgeStored replicates a fact vector.
func (r *Replica) KnowledgeStored(ctx context.Context, e memory.KnowledgeEntry, vector []float32) error {
	return r.upsert(ctx, vectorindex.KindKnowledge, e.ID, vector, map[string]string{
		"topic":  e.Topic,
		"source": e.Source,
	})
}

// ConversationStored replicates a conversation vector.
func (r *Replica) ConversationStored(ctx context.Context, c memory.ConversationEntry, vector []float32) error {
	return r.upsert(ctx, vectorindex.KindConversation, c.ID, vector, map[string]string{
		"query": c.Query,
	})
}

// AgentStateUpdated is a no-op; agent state has no vector.
func (r *Replica) AgentStateUpdated(context.Context, memory.AgentState) error { return nil }

// Cleared drops the collection; the next vector recreates it.
func (r *Replica) Cleared(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dimension = 0
	return r.client.DropCollection(ctx, r.collection)
}

// Search queries the replica directly.
func (r *Replica) Search(ctx context.Context, vector []float32, k int) ([]*SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	return r.client.Search(ctx, r.collection, vector, uint64(k))
}
