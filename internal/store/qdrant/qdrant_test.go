package qdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/store"
)

type fakeClient struct {
	exists      bool
	created     []*qdrant.CreateCollection
	fieldIdx    []*qdrant.CreateFieldIndexCollection
	upserts     []*qdrant.UpsertPoints
	deletes     []*qdrant.DeletePoints
	queries     []*qdrant.QueryPoints
	results     []*qdrant.ScoredPoint
	upsertErr   error
	queryErr    error
	closed      bool
	callHistory []string
}

func (f *fakeClient) CollectionExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeClient) CreateCollection(_ context.Context, r *qdrant.CreateCollection) error {
	f.created = append(f.created, r)
	return nil
}

func (f *fakeClient) CreateFieldIndex(_ context.Context, r *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.fieldIdx = append(f.fieldIdx, r)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Upsert(_ context.Context, r *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.callHistory = append(f.callHistory, "upsert")
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts = append(f.upserts, r)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Delete(_ context.Context, r *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.callHistory = append(f.callHistory, "delete")
	f.deletes = append(f.deletes, r)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Query(_ context.Context, r *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, r)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.results, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func newStore(t *testing.T, f *fakeClient, strategy store.DistanceStrategy) *Store {
	t.Helper()
	s, err := New(f, Config{Collection: "all_mpnet_base_v2_3", Dimensions: 3, Strategy: strategy})
	require.NoError(t, err)
	return s
}

func TestEnsureSchema_CreatesCollectionOnce(t *testing.T) {
	// Given a missing collection
	f := &fakeClient{}
	s := newStore(t, f, store.DistanceCosine)

	// When the schema is ensured
	require.NoError(t, s.EnsureSchema(context.Background()))

	// Then a cosine collection and a source_location index are created
	require.Len(t, f.created, 1)
	params := f.created[0].GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(3), params.GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, params.GetDistance())
	require.Len(t, f.fieldIdx, 1)
	assert.Equal(t, "source_location", f.fieldIdx[0].GetFieldName())

	// And nothing is created when it exists
	f.exists = true
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Len(t, f.created, 1)
}

func TestDistanceMapping(t *testing.T) {
	assert.Equal(t, qdrant.Distance_Euclid, distance(store.DistanceL2))
	assert.Equal(t, qdrant.Distance_Cosine, distance(store.DistanceCosine))
	assert.Equal(t, qdrant.Distance_Dot, distance(store.DistanceInner))
}

func TestAddVectors_DeletesThenUpserts(t *testing.T) {
	// Given chunks of one document plus an untagged chunk
	f := &fakeClient{}
	s := newStore(t, f, store.DistanceL2)
	docs := []store.Document{
		{PageContent: "first", Metadata: map[string]any{"source_location": "s3://b/a.txt", "section_index": 0}},
		{PageContent: "loose"},
	}

	// When adding
	require.NoError(t, s.AddVectors(context.Background(), [][]float32{{1, 0, 0}, {0, 1, 0}}, docs))

	// Then the tagged location is deleted before the upsert
	assert.Equal(t, []string{"delete", "upsert"}, f.callHistory)
	cond := f.deletes[0].GetPoints().GetFilter().GetMust()[0].GetField()
	assert.Equal(t, "source_location", cond.GetKey())
	assert.Equal(t, []string{"s3://b/a.txt"}, cond.GetMatch().GetKeywords().GetStrings())

	points := f.upserts[0].GetPoints()
	require.Len(t, points, 2)
	assert.Equal(t, "first", points[0].GetPayload()[PayloadDocument].GetStringValue())
	assert.Equal(t, int64(0), points[0].GetPayload()["section_index"].GetIntegerValue())
	assert.Equal(t, "unknown", points[1].GetPayload()["source_location"].GetStringValue())
}

func TestDeleteBySourceLocation_DefaultOnlyIsNoop(t *testing.T) {
	f := &fakeClient{}
	s := newStore(t, f, store.DistanceL2)
	require.NoError(t, s.DeleteBySourceLocation(context.Background(), "unknown", ""))
	assert.Empty(t, f.deletes)
}

func TestInsertVectors_UpsertError(t *testing.T) {
	f := &fakeClient{upsertErr: errors.New("unavailable")}
	s := newStore(t, f, store.DistanceL2)

	err := s.InsertVectors(context.Background(), [][]float32{{1, 0, 0}}, []store.Document{{PageContent: "x"}})

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeVectorWrite, cerrors.GetCode(err))
	assert.Equal(t, []string{"upsert"}, f.callHistory)
}

func TestSimilaritySearch(t *testing.T) {
	// Given a point returned by Qdrant
	f := &fakeClient{results: []*qdrant.ScoredPoint{{
		Id:    qdrant.NewIDUUID("6f1c9a3e-2d7b-4b8e-9a61-0c3f5d7e8a90"),
		Score: 0.75,
		Payload: qdrant.NewValueMap(map[string]any{
			PayloadDocument:   "hello",
			"source_location": "s3://b/a.txt",
			"domain":          "legal",
		}),
	}}}
	s := newStore(t, f, store.DistanceCosine)

	// When searching with a filter
	got, err := s.SimilaritySearchVectorWithScore(context.Background(), []float32{1, 0, 0}, 4, map[string]string{"domain": "legal"})

	// Then the request carries the filter and limit and the payload becomes the document
	require.NoError(t, err)
	q := f.queries[0]
	assert.Equal(t, uint64(4), q.GetLimit())
	assert.Equal(t, "domain", q.GetFilter().GetMust()[0].GetField().GetKey())
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Document.PageContent)
	assert.Equal(t, "s3://b/a.txt", got[0].Document.SourceLocation)
	assert.Equal(t, "legal", got[0].Document.Metadata["domain"])
	assert.NotContains(t, got[0].Document.Metadata, PayloadDocument)
	assert.InDelta(t, 0.75, got[0].Score, 1e-6)
}

func TestSimilaritySearch_DimensionMismatch(t *testing.T) {
	s := newStore(t, &fakeClient{}, store.DistanceL2)
	_, err := s.SimilaritySearchVectorWithScore(context.Background(), []float32{1}, 4, nil)
	assert.ErrorAs(t, err, &store.ErrDimensionMismatch{})
}

func TestClose(t *testing.T) {
	f := &fakeClient{}
	require.NoError(t, newStore(t, f, store.DistanceL2).Close())
	assert.True(t, f.closed)
}

func TestSimilaritySearch_QueryFailure(t *testing.T) {
	tests := []struct {
		name  string
		catch bool
	}{
		{"error returned", false},
		{"error caught", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given a Qdrant query that fails
			f := &fakeClient{queryErr: errors.New("unavailable")}
			s, err := New(f, Config{Collection: "c", Dimensions: 3, Strategy: store.DistanceCosine, CatchSearchErrors: tt.catch})
			require.NoError(t, err)

			// When searching
			got, err := s.SimilaritySearchVectorWithScore(context.Background(), []float32{1, 0, 0}, 4, nil)

			// Then the failure surfaces unless search errors are caught
			if tt.catch {
				require.NoError(t, err)
				assert.NotNil(t, got)
				assert.Empty(t, got)
				return
			}
			require.Error(t, err)
			assert.Equal(t, cerrors.ErrCodeVectorSearch, cerrors.GetCode(err))
		})
	}
}
