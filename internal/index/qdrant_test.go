package index

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/secai-go/internal/loader"
)

// scrolledPoint builds a point the way Qdrant returns it from a scroll.
func scrolledPoint(docID string, chunk int, hash string, ingested time.Time, vec []float32) *qdrant.RetrievedPoint {
	return &qdrant.RetrievedPoint{
		Id: qdrant.NewID(PointID(docID, chunk, hash)),
		Payload: qdrant.NewValueMap(map[string]any{
			payloadDocumentID:  docID,
			payloadChunkIndex:  int64(chunk),
			payloadText:        "chunk text",
			payloadStart:       int64(chunk * 10),
			payloadEnd:         int64(chunk*10 + 10),
			payloadFramework:   "nist-800-53",
			payloadContentHash: hash,
			payloadIngestedAt:  ingested.UnixMilli(),
		}),
		Vectors: &qdrant.VectorsOutput{
			VectorsOptions: &qdrant.VectorsOutput_Vector{
				Vector: &qdrant.VectorOutput{
					Vector: &qdrant.VectorOutput_Dense{Dense: &qdrant.DenseVector{Data: vec}},
				},
			},
		},
	}
}

func TestPointID_Deterministic(t *testing.T) {
	t.Parallel()

	a := PointID("nist_800-53_summary.txt", 3, "abc")
	assert.Equal(t, a, PointID("nist_800-53_summary.txt", 3, "abc"))
	assert.NotEqual(t, a, PointID("nist_800-53_summary.txt", 4, "abc"), "chunk index")
	assert.NotEqual(t, a, PointID("nist_800-53_summary.txt", 3, "abd"), "content hash")
	assert.NotEqual(t, a, PointID("cis_rhel_benchmark.txt", 3, "abc"), "document id")

	id, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), id.Version())
}

func TestEntryFromPoint(t *testing.T) {
	t.Parallel()

	ingested := time.UnixMilli(1_700_000_000_000).UTC()
	e, hash, at, ok := entryFromPoint(scrolledPoint("doc.txt", 2, "h1", ingested, []float32{0.1, 0.2}))
	require.True(t, ok)
	assert.Equal(t, "h1", hash)
	assert.Equal(t, ingested, at)
	assert.Equal(t, loader.Chunk{
		DocumentID: "doc.txt",
		Index:      2,
		Text:       "chunk text",
		Start:      20,
		End:        30,
		Framework:  "nist-800-53",
	}, e.Chunk)
	assert.Equal(t, []float32{0.1, 0.2}, e.Vector)
}

func TestEntryFromPoint_LegacyFlatVector(t *testing.T) {
	t.Parallel()

	p := scrolledPoint("doc.txt", 0, "h1", time.Now(), nil)
	p.Vectors = &qdrant.VectorsOutput{
		VectorsOptions: &qdrant.VectorsOutput_Vector{
			Vector: &qdrant.VectorOutput{Data: []float32{1, 2, 3}},
		},
	}
	e, _, _, ok := entryFromPoint(p)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, e.Vector)
}

func TestEntryFromPoint_SkipsForeignPoints(t *testing.T) {
	t.Parallel()

	noHash := scrolledPoint("doc.txt", 0, "h1", time.Now(), []float32{1})
	delete(noHash.Payload, payloadContentHash)

	noDoc := scrolledPoint("doc.txt", 0, "h1", time.Now(), []float32{1})
	delete(noDoc.Payload, payloadDocumentID)

	noVector := scrolledPoint("doc.txt", 0, "h1", time.Now(), nil)

	foreign := &qdrant.RetrievedPoint{
		Id:      qdrant.NewIDNum(7),
		Payload: qdrant.NewValueMap(map[string]any{"content": "written by another tool"}),
	}

	for name, p := range map[string]*qdrant.RetrievedPoint{
		"no hash": noHash, "no document": noDoc, "no vector": noVector, "foreign": foreign,
	} {
		_, _, _, ok := entryFromPoint(p)
		assert.False(t, ok, name)
	}
}

func TestGenerations_NewestWins(t *testing.T) {
	t.Parallel()

	old := time.UnixMilli(1_700_000_000_000)
	recent := old.Add(time.Hour)

	g := make(generations)
	// Interrupted Replace: the new generation of doc-a landed but the old one
	// was never pruned. Chunks arrive out of order.
	g.add(scrolledPoint("doc-a", 1, "new", recent, []float32{1}))
	g.add(scrolledPoint("doc-a", 0, "old", old, []float32{1}))
	g.add(scrolledPoint("doc-a", 0, "new", recent, []float32{1}))
	g.add(scrolledPoint("doc-a", 1, "old", old, []float32{1}))
	g.add(scrolledPoint("doc-a", 2, "old", old, []float32{1}))
	g.add(scrolledPoint("doc-b", 0, "only", old, []float32{1}))
	g.add(&qdrant.RetrievedPoint{Id: qdrant.NewIDNum(1)})

	records := g.newest()
	require.Len(t, records, 2)

	a := records[0]
	assert.Equal(t, "doc-a", a.DocumentID)
	assert.Equal(t, "new", a.ContentHash)
	require.Len(t, a.Entries, 2)
	assert.Equal(t, 0, a.Entries[0].Chunk.Index)
	assert.Equal(t, 1, a.Entries[1].Chunk.Index)

	assert.Equal(t, "doc-b", records[1].DocumentID)
	assert.Equal(t, "only", records[1].ContentHash)
}

func TestGenerations_TieIsDeterministic(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1_700_000_000_000)
	for range 10 {
		g := make(generations)
		g.add(scrolledPoint("doc", 0, "aaa", at, []float32{1}))
		g.add(scrolledPoint("doc", 0, "bbb", at, []float32{1}))
		records := g.newest()
		require.Len(t, records, 1)
		assert.Equal(t, "bbb", records[0].ContentHash)
	}
}

func TestPointsFromRecord(t *testing.T) {
	t.Parallel()

	rec := &Record{
		DocumentID:  "cis_rhel_benchmark.txt",
		ContentHash: "h2",
		IngestedAt:  time.UnixMilli(1_700_000_000_000),
		Entries: []Entry{
			{Chunk: loader.Chunk{DocumentID: "cis_rhel_benchmark.txt", Index: 0, Text: "Ensure SSH root login is disabled", End: 33, Framework: "cis"}, Vector: []float32{0.5, 0.5}},
			{Chunk: loader.Chunk{DocumentID: "cis_rhel_benchmark.txt", Index: 1, Text: "Ensure auditd is installed", Start: 30, End: 56, Framework: "cis"}, Vector: []float32{0.1, 0.9}},
		},
	}

	points, err := pointsFromRecord(rec)
	require.NoError(t, err)
	require.Len(t, points, 2)

	p := points[1]
	assert.Equal(t, PointID("cis_rhel_benchmark.txt", 1, "h2"), p.GetId().GetUuid())
	assert.Equal(t, []float32{0.1, 0.9}, p.GetVectors().GetVector().GetDense().GetData())
	assert.Equal(t, "cis_rhel_benchmark.txt", p.GetPayload()[payloadDocumentID].GetStringValue())
	assert.Equal(t, int64(1), p.GetPayload()[payloadChunkIndex].GetIntegerValue())
	assert.Equal(t, int64(30), p.GetPayload()[payloadStart].GetIntegerValue())
	assert.Equal(t, "h2", p.GetPayload()[payloadContentHash].GetStringValue())
	assert.Equal(t, int64(1_700_000_000_000), p.GetPayload()[payloadIngestedAt].GetIntegerValue())
}

// A point written by pointsFromRecord and read back by entryFromPoint keeps
// its chunk and generation.
func TestPointsFromRecord_ReadBack(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1_700_000_000_000).UTC()
	chunk := loader.Chunk{DocumentID: "NIST-AC-2.txt", Index: 0, Text: "AC-2 Account Management", End: 23, Framework: "nist-800-53"}
	points, err := pointsFromRecord(&Record{
		DocumentID:  chunk.DocumentID,
		ContentHash: "h",
		IngestedAt:  at,
		Entries:     []Entry{{Chunk: chunk, Vector: []float32{1, 0}}},
	})
	require.NoError(t, err)

	read := &qdrant.RetrievedPoint{
		Id:      points[0].GetId(),
		Payload: points[0].GetPayload(),
		Vectors: &qdrant.VectorsOutput{
			VectorsOptions: &qdrant.VectorsOutput_Vector{
				Vector: &qdrant.VectorOutput{
					Vector: &qdrant.VectorOutput_Dense{Dense: points[0].GetVectors().GetVector().GetDense()},
				},
			},
		},
	}
	e, hash, ingested, ok := entryFromPoint(read)
	require.True(t, ok)
	assert.Equal(t, chunk, e.Chunk)
	assert.Equal(t, "h", hash)
	assert.Equal(t, at, ingested)
}

func TestStaleFilter(t *testing.T) {
	t.Parallel()

	f := staleFilter("doc.txt", "h2")
	require.Len(t, f.GetMust(), 1)
	require.Len(t, f.GetMustNot(), 1)

	must := f.GetMust()[0].GetField()
	assert.Equal(t, payloadDocumentID, must.GetKey())
	assert.Equal(t, "doc.txt", must.GetMatch().GetKeyword())

	mustNot := f.GetMustNot()[0].GetField()
	assert.Equal(t, payloadContentHash, mustNot.GetKey())
	assert.Equal(t, "h2", mustNot.GetMatch().GetKeyword())
}
