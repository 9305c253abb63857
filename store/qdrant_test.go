package store

import (
	"context"
	"errors"
	"testing"

	"visionrag/types"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type mockPoints struct {
	upserts    []*pb.UpsertPoints
	deletes    []*pb.DeletePoints
	searches   []*pb.SearchPoints
	fieldIndex []string
	searchResp *pb.SearchResponse
	upsertErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserts = append(m.upserts, in)
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deletes = append(m.deletes, in)
	return &pb.PointsOperationResponse{}, nil
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searches = append(m.searches, in)
	if m.searchResp == nil {
		return &pb.SearchResponse{}, nil
	}
	return m.searchResp, nil
}

func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.fieldIndex = append(m.fieldIndex, in.GetFieldName())
	return &pb.PointsOperationResponse{}, nil
}

type mockCollections struct {
	names   []string
	size    uint64
	created []*pb.CreateCollection
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return &pb.GetCollectionInfoResponse{
		Result: &pb.CollectionInfo{
			Config: &pb.CollectionConfig{
				Params: &pb.CollectionParams{
					VectorsConfig: &pb.VectorsConfig{
						Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{Size: m.size}},
					},
				},
			},
		},
	}, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = append(m.created, in)
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func TestQdrantCreatesMissingCollection(t *testing.T) {
	points, cols := &mockPoints{}, &mockCollections{}
	q := newQdrantIndex(points, cols, "visionrag", "vision-rag", 50, nil)

	require.NoError(t, q.CreateIndexIfNeeded(context.Background(), 4))

	require.Len(t, cols.created, 1)
	params := cols.created[0].GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(4), params.GetSize())
	assert.Equal(t, pb.Distance_Cosine, params.GetDistance())
	assert.Equal(t, []string{"namespace", "doc_id"}, points.fieldIndex)
}

func TestQdrantExistingCollectionDimension(t *testing.T) {
	cols := &mockCollections{names: []string{"visionrag"}, size: 4}
	q := newQdrantIndex(&mockPoints{}, cols, "visionrag", "vision-rag", 50, nil)

	require.NoError(t, q.CreateIndexIfNeeded(context.Background(), 4))
	assert.Empty(t, cols.created)

	err := q.CreateIndexIfNeeded(context.Background(), 8)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrantUpsertBatchesAndPayload(t *testing.T) {
	points := &mockPoints{}
	q := newQdrantIndex(points, &mockCollections{}, "visionrag", "vision-rag", 2, nil)
	require.NoError(t, q.CreateIndexIfNeeded(context.Background(), 2))

	bundles := []types.Bundle{
		{ID: "1", DocID: "d", Type: types.BundleText, Content: "a", Page: types.IntPtr(3)},
		{ID: "2", DocID: "d", Type: types.BundleFigure, Content: "b", Caption: "Figure 1: x"},
		{ID: "3", DocID: "d", Type: types.BundleText, Content: "c"},
	}
	n, err := q.UpsertBundles(context.Background(), "d", bundles, [][]float32{{1, 0}, {0, 1}, {1, 1}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, points.upserts, 2)
	assert.Len(t, points.upserts[0].GetPoints(), 2)
	assert.Len(t, points.upserts[1].GetPoints(), 1)

	first := points.upserts[0].GetPoints()[0]
	assert.Equal(t, q.pointID("d:1"), first.GetId().GetUuid())
	assert.Equal(t, "vision-rag", first.GetPayload()["namespace"].GetStringValue())
	assert.Equal(t, "d:1", first.GetPayload()["entry_id"].GetStringValue())
	assert.Equal(t, int64(3), first.GetPayload()["page"].GetIntegerValue())

	second := points.upserts[0].GetPoints()[1]
	_, hasPage := second.GetPayload()["page"]
	assert.False(t, hasPage)
}

func TestQdrantUpsertErrors(t *testing.T) {
	points := &mockPoints{upsertErr: errors.New("unavailable")}
	q := newQdrantIndex(points, &mockCollections{}, "visionrag", "vision-rag", 50, nil)
	require.NoError(t, q.CreateIndexIfNeeded(context.Background(), 2))

	_, err := q.UpsertBundles(context.Background(), "d", []types.Bundle{{ID: "1", DocID: "d"}}, nil)
	assert.ErrorIs(t, err, ErrLengthMismatch)
	assert.Empty(t, points.upserts)

	_, err = q.UpsertBundles(context.Background(), "d", []types.Bundle{{ID: "1", DocID: "d"}}, [][]float32{{1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = q.UpsertBundles(context.Background(), "d", []types.Bundle{{ID: "1", DocID: "d"}}, [][]float32{{1, 0}})
	assert.Error(t, err)
}

func TestQdrantQueryFiltersAndMapsPayload(t *testing.T) {
	points := &mockPoints{searchResp: &pb.SearchResponse{
		Result: []*pb.ScoredPoint{{
			Score: 0.75,
			Payload: map[string]*pb.Value{
				"entry_id":  stringValue("d:1"),
				"doc_id":    stringValue("d"),
				"bundle_id": stringValue("1"),
				"type":      stringValue("figure"),
				"content":   stringValue("bars"),
				"caption":   stringValue("Figure 2: growth"),
				"page":      {Kind: &pb.Value_IntegerValue{IntegerValue: 5}},
			},
		}},
	}}
	q := newQdrantIndex(points, &mockCollections{}, "visionrag", "vision-rag", 50, nil)
	require.NoError(t, q.CreateIndexIfNeeded(context.Background(), 2))

	got, err := q.Query(context.Background(), "d", []float32{1, 0}, 6)
	require.NoError(t, err)

	require.Len(t, points.searches, 1)
	req := points.searches[0]
	assert.Equal(t, uint64(6), req.GetLimit())
	must := req.GetFilter().GetMust()
	require.Len(t, must, 2)
	assert.Equal(t, "namespace", must[0].GetField().GetKey())
	assert.Equal(t, "vision-rag", must[0].GetField().GetMatch().GetKeyword())
	assert.Equal(t, "doc_id", must[1].GetField().GetKey())
	assert.Equal(t, "d", must[1].GetField().GetMatch().GetKeyword())

	require.Len(t, got, 1)
	assert.Equal(t, "d:1", got[0].ID)
	assert.Equal(t, types.BundleFigure, got[0].Type)
	assert.InDelta(t, 0.75, got[0].Score, 1e-6)
	require.NotNil(t, got[0].Page)
	assert.Equal(t, 5, *got[0].Page)
}

func TestQdrantDeleteDocumentUsesFilter(t *testing.T) {
	points := &mockPoints{}
	q := newQdrantIndex(points, &mockCollections{}, "visionrag", "vision-rag", 50, nil)

	require.NoError(t, q.DeleteDocument(context.Background(), "d"))
	require.Len(t, points.deletes, 1)
	must := points.deletes[0].GetPoints().GetFilter().GetMust()
	require.Len(t, must, 2)
	assert.Equal(t, "d", must[1].GetField().GetMatch().GetKeyword())
}

func TestQdrantDeleteDocumentExceptKeepsPoints(t *testing.T) {
	points := &mockPoints{}
	q := newQdrantIndex(points, &mockCollections{}, "visionrag", "vision-rag", 50, nil)

	require.NoError(t, q.DeleteDocumentExcept(context.Background(), "d", []string{"d:1", "d:2"}))
	require.Len(t, points.deletes, 1)
	filter := points.deletes[0].GetPoints().GetFilter()
	require.Len(t, filter.GetMust(), 2)
	require.Len(t, filter.GetMustNot(), 1)

	kept := filter.GetMustNot()[0].GetHasId().GetHasId()
	require.Len(t, kept, 2)
	assert.Equal(t, q.pointID("d:1"), kept[0].GetUuid())
	assert.Equal(t, q.pointID("d:2"), kept[1].GetUuid())

	require.NoError(t, q.DeleteDocumentExcept(context.Background(), "d", nil))
	assert.Empty(t, points.deletes[1].GetPoints().GetFilter().GetMustNot())
}

func TestQdrantPointIDIsStablePerNamespace(t *testing.T) {
	a := newQdrantIndex(&mockPoints{}, &mockCollections{}, "c", "ns-a", 50, nil)
	b := newQdrantIndex(&mockPoints{}, &mockCollections{}, "c", "ns-b", 50, nil)

	assert.Equal(t, a.pointID("d:1"), a.pointID("d:1"))
	assert.NotEqual(t, a.pointID("d:1"), b.pointID("d:1"))
}
