package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"visionrag/types"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// pointNamespace seeds the UUIDv5 point ids derived from entry ids.
var pointNamespace = uuid.MustParse("6f1c2a8e-3d4b-5c6d-8e9f-0a1b2c3d4e5f")

// QdrantIndex stores entries as points of one collection. The namespace and
// doc_id live in the payload and are matched as keywords.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	namespace   string
	batchSize   int
	dimension   atomic.Int64
	logger      *slog.Logger
}

func NewQdrantIndex(addr, collection, namespace string, batchSize int, logger *slog.Logger) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	q := newQdrantIndex(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, namespace, batchSize, logger)
	q.conn = conn
	return q, nil
}

func newQdrantIndex(points pointsAPI, collections collectionsAPI, collection, namespace string, batchSize int, logger *slog.Logger) *QdrantIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantIndex{
		points:      points,
		collections: collections,
		collection:  collection,
		namespace:   namespace,
		batchSize:   batchSize,
		logger:      logger,
	}
}

func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func (q *QdrantIndex) CreateIndexIfNeeded(ctx context.Context, dimension int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() != q.collection {
			continue
		}
		info, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.collection})
		if err != nil {
			return fmt.Errorf("get collection %s: %w", q.collection, err)
		}
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if int(size) != dimension {
			return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, q.collection, size, dimension)
		}
		q.dimension.Store(int64(dimension))
		return nil
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}

	wait := true
	for _, field := range []string{"namespace", "doc_id"} {
		_, err := q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: q.collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("index payload field %s: %w", field, err)
		}
	}

	q.dimension.Store(int64(dimension))
	q.logger.Info("[QDRANT] collection created", "collection", q.collection, "dimension", dimension)
	return nil
}

func (q *QdrantIndex) UpsertBundles(ctx context.Context, docID string, bundles []types.Bundle, embeddings [][]float32) (int, error) {
	entries, err := buildEntries(docID, int(q.dimension.Load()), bundles, embeddings)
	if err != nil {
		return 0, err
	}

	wait := true
	err = inBatches(len(entries), q.batchSize, func(lo, hi int) error {
		points := make([]*pb.PointStruct, 0, hi-lo)
		for _, e := range entries[lo:hi] {
			points = append(points, &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: q.pointID(e.ID)},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: e.Vector},
					},
				},
				Payload: q.payload(e),
			})
		}
		_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("upsert %d points: %w", len(points), err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (q *QdrantIndex) Query(ctx context.Context, docID string, vector []float32, topK int) ([]types.Candidate, error) {
	if err := checkDimension(int(q.dimension.Load()), vector); err != nil {
		return nil, err
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(max(topK, 0)),
		Filter:         q.docFilter(docID),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]types.Candidate, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		p := r.GetPayload()
		c := types.Candidate{
			ID:          p["entry_id"].GetStringValue(),
			Score:       float64(r.GetScore()),
			DocID:       p["doc_id"].GetStringValue(),
			BundleID:    p["bundle_id"].GetStringValue(),
			Type:        types.BundleType(p["type"].GetStringValue()),
			Content:     p["content"].GetStringValue(),
			Caption:     p["caption"].GetStringValue(),
			Description: p["description"].GetStringValue(),
		}
		if page, ok := p["page"]; ok {
			c.Page = types.IntPtr(int(page.GetIntegerValue()))
		}
		out = append(out, c)
	}
	return out, nil
}

func (q *QdrantIndex) DeleteDocument(ctx context.Context, docID string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: q.docFilter(docID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete by doc_id %s: %w", docID, err)
	}
	return nil
}

func (q *QdrantIndex) DeleteDocumentExcept(ctx context.Context, docID string, keep []string) error {
	filter := q.docFilter(docID)
	if len(keep) > 0 {
		ids := make([]*pb.PointId, 0, len(keep))
		for _, id := range keep {
			ids = append(ids, &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: q.pointID(id)}})
		}
		filter.MustNot = []*pb.Condition{{
			ConditionOneOf: &pb.Condition_HasId{HasId: &pb.HasIdCondition{HasId: ids}},
		}}
	}

	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return fmt.Errorf("delete stale points of %s: %w", docID, err)
	}
	return nil
}

// pointID is stable per (namespace, entry id) so re-upserts overwrite.
func (q *QdrantIndex) pointID(entryID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(q.namespace+"/"+entryID)).String()
}

func (q *QdrantIndex) docFilter(docID string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			fieldMatch("namespace", q.namespace),
			fieldMatch("doc_id", docID),
		},
	}
}

func (q *QdrantIndex) payload(e types.IndexEntry) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"namespace":   stringValue(q.namespace),
		"entry_id":    stringValue(e.ID),
		"doc_id":      stringValue(e.DocID),
		"bundle_id":   stringValue(e.BundleID),
		"type":        stringValue(string(e.Type)),
		"content":     stringValue(e.Content),
		"caption":     stringValue(e.Caption),
		"description": stringValue(e.Description),
	}
	if e.Page != nil {
		payload["page"] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(*e.Page)}}
	}
	return payload
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
