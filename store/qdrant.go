package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultQdrantPort   = 6334
	defaultQdrantPrefix = "reposcope"
	qdrantUpsertBatch   = 256
)

// QdrantBackend stores each repository generation in its own collection.
type QdrantBackend struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	prefix      string
}

// NewQdrantBackend connects to the Qdrant gRPC API at endpoint:port.
func NewQdrantBackend(endpoint string, port int, prefix, apiKey string, useTLS bool) (*QdrantBackend, error) {
	if port <= 0 {
		port = defaultQdrantPort
	}
	if prefix == "" {
		prefix = defaultQdrantPrefix
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
	addr := fmt.Sprintf("%s:%d", endpoint, port)

	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if apiKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(apiKey)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial qdrant %s: %w", addr, err)
	}
	return &QdrantBackend{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		prefix:      prefix,
	}, nil
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (b *QdrantBackend) Name() string {
	return "qdrant"
}

// CollectionName is the collection holding one generation of a repository.
func (b *QdrantBackend) CollectionName(repoID string, generation uint64) string {
	return fmt.Sprintf("%s_%s_g%d", b.prefix, repoID, generation)
}

// NewIndex creates a fresh collection, dropping a leftover one with the same
// name from an earlier process.
func (b *QdrantBackend) NewIndex(ctx context.Context, repoID string, generation uint64, dims int) (VectorIndex, error) {
	name := b.CollectionName(repoID, generation)

	list, err := b.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list qdrant collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			if _, err := b.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
				return nil, fmt.Errorf("failed to drop stale collection %s: %w", name, err)
			}
			break
		}
	}

	_, err = b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	return &qdrantIndex{backend: b, collection: name, dims: dims}, nil
}

// OpenIndex reattaches to the collection of a persisted generation. It
// fails with ErrIndexMissing unless the collection holds exactly size points.
func (b *QdrantBackend) OpenIndex(ctx context.Context, repoID string, generation uint64, dims, size int) (VectorIndex, error) {
	name := b.CollectionName(repoID, generation)
	exact := true
	resp, err := b.points.Count(ctx, &pb.CountPoints{CollectionName: name, Exact: &exact})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexMissing, name, err)
	}
	if got := resp.GetResult().GetCount(); got != uint64(size) {
		return nil, fmt.Errorf("%w: %s holds %d points, snapshot has %d", ErrIndexMissing, name, got, size)
	}
	idx := &qdrantIndex{backend: b, collection: name, dims: dims}
	idx.count.Store(int64(size))
	return idx, nil
}

func (b *QdrantBackend) Close() error {
	return b.conn.Close()
}

type qdrantIndex struct {
	backend    *QdrantBackend
	collection string
	dims       int
	count      atomic.Int64
}

func (q *qdrantIndex) Add(ctx context.Context, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += qdrantUpsertBatch {
		end := start + qdrantUpsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}

		points := make([]*pb.PointStruct, 0, end-start)
		for _, c := range chunks[start:end] {
			if len(c.Vector) != q.dims {
				return fmt.Errorf("chunk %s has %d dimensions, index expects %d", c.ID, len(c.Vector), q.dims)
			}
			points = append(points, &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(c.ID)},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: c.Vector},
					},
				},
				Payload: map[string]*pb.Value{
					"chunk_id":   stringValue(c.ID),
					"file_path":  stringValue(c.FilePath),
					"start_line": intValue(c.StartLine),
					"end_line":   intValue(c.EndLine),
					"content":    stringValue(c.Content),
					"hash":       stringValue(c.Hash),
				},
			})
		}

		wait := true
		_, err := q.backend.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert %d points into %s: %w", len(points), q.collection, err)
		}
		q.count.Add(int64(len(points)))
	}
	return nil
}

func (q *qdrantIndex) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	if len(queryVector) != q.dims {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d", len(queryVector), q.dims)
	}
	if limit <= 0 {
		limit = int(q.count.Load())
	}

	resp, err := q.backend.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         queryVector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", q.collection, err)
	}

	results := make([]SearchResult, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		p := r.GetPayload()
		results = append(results, SearchResult{
			Chunk: Chunk{
				ID:        p["chunk_id"].GetStringValue(),
				FilePath:  p["file_path"].GetStringValue(),
				StartLine: int(p["start_line"].GetIntegerValue()),
				EndLine:   int(p["end_line"].GetIntegerValue()),
				Content:   p["content"].GetStringValue(),
				Hash:      p["hash"].GetStringValue(),
			},
			Score: r.GetScore(),
		})
	}
	SortResults(results)
	return results, nil
}

func (q *qdrantIndex) Len() int {
	return int(q.count.Load())
}

// Close is a no-op; the connection belongs to the backend.
func (q *qdrantIndex) Close() error {
	return nil
}

// Drop deletes the collection of a retired generation.
func (q *qdrantIndex) Drop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := q.backend.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection}); err != nil {
		log.Printf("Warning: failed to drop collection %s: %v", q.collection, err)
		return err
	}
	return nil
}

// pointID maps a chunk ID to the UUID Qdrant requires.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}
