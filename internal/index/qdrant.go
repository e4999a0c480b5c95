package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/secai-go/internal/loader"
)

// Payload keys written on every Qdrant point.
const (
	payloadDocumentID  = "document_id"
	payloadChunkIndex  = "chunk_index"
	payloadText        = "text"
	payloadStart       = "start"
	payloadEnd         = "end"
	payloadFramework   = "framework"
	payloadContentHash = "content_hash"
	payloadIngestedAt  = "ingested_at"
)

// scrollPageSize is the number of points fetched per scroll request in Load.
const scrollPageSize = 256

// pointNamespace seeds the deterministic point ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/54b3r/secai-go/index"))

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: secai-corpus).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore persists records as Qdrant points, one point per chunk.
//
// Replace writes the new generation of a document's points before removing
// the old one, so a crash in between leaves two generations; Load keeps the
// newest and the next Replace cleans up the other.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore connects to Qdrant and creates the collection if needed.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "secai-corpus"
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &QdrantStore{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Load scrolls the whole collection and rebuilds one record per document.
func (s *QdrantStore) Load(ctx context.Context) ([]*Record, error) {
	gens := make(generations)

	var offset *qdrant.PointId
	for {
		points, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll failed: %w", err)
		}
		for _, p := range points {
			gens.add(p)
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}
	return gens.newest(), nil
}

// generations groups scrolled points by document id, then by content hash.
type generations map[string]map[string]*Record

// add files p under its document and generation. Points not written by this
// store are ignored.
func (g generations) add(p *qdrant.RetrievedPoint) {
	entry, hash, ingested, ok := entryFromPoint(p)
	if !ok {
		return
	}
	docID := entry.Chunk.DocumentID
	byHash := g[docID]
	if byHash == nil {
		byHash = make(map[string]*Record)
		g[docID] = byHash
	}
	rec := byHash[hash]
	if rec == nil {
		rec = &Record{DocumentID: docID, ContentHash: hash, IngestedAt: ingested}
		byHash[hash] = rec
	}
	rec.Entries = append(rec.Entries, entry)
}

// newest returns one record per document, the generation with the latest
// ingested_at (ties go to the greater hash), sorted by document id with
// entries in chunk order.
func (g generations) newest() []*Record {
	records := make([]*Record, 0, len(g))
	for _, byHash := range g {
		var newest *Record
		for _, rec := range byHash {
			if newest == nil || rec.IngestedAt.After(newest.IngestedAt) ||
				(rec.IngestedAt.Equal(newest.IngestedAt) && rec.ContentHash > newest.ContentHash) {
				newest = rec
			}
		}
		sort.Slice(newest.Entries, func(i, j int) bool {
			return newest.Entries[i].Chunk.Index < newest.Entries[j].Chunk.Index
		})
		records = append(records, newest)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DocumentID < records[j].DocumentID })
	return records
}

// Replace upserts the points of rec and then removes the document's points
// from any other generation.
func (s *QdrantStore) Replace(ctx context.Context, rec *Record) error {
	points, err := pointsFromRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %q failed: %w", rec.DocumentID, err)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(staleFilter(rec.DocumentID, rec.ContentHash)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: prune stale points of %q failed: %w", rec.DocumentID, err)
	}
	return nil
}

// pointsFromRecord builds one point per entry of rec.
func pointsFromRecord(rec *Record) ([]*qdrant.PointStruct, error) {
	points := make([]*qdrant.PointStruct, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		payload, err := qdrant.TryValueMap(map[string]any{
			payloadDocumentID:  rec.DocumentID,
			payloadChunkIndex:  int64(e.Chunk.Index),
			payloadText:        e.Chunk.Text,
			payloadStart:       int64(e.Chunk.Start),
			payloadEnd:         int64(e.Chunk.End),
			payloadFramework:   e.Chunk.Framework,
			payloadContentHash: rec.ContentHash,
			payloadIngestedAt:  rec.IngestedAt.UnixMilli(),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: payload for %q chunk %d: %w", rec.DocumentID, e.Chunk.Index, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(rec.DocumentID, e.Chunk.Index, rec.ContentHash)),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: payload,
		})
	}
	return points, nil
}

// staleFilter matches the points of documentID from every generation other
// than contentHash.
func staleFilter(documentID, contentHash string) *qdrant.Filter {
	return &qdrant.Filter{
		Must:    []*qdrant.Condition{qdrant.NewMatch(payloadDocumentID, documentID)},
		MustNot: []*qdrant.Condition{qdrant.NewMatch(payloadContentHash, contentHash)},
	}
}

// Delete removes every point of a document.
func (s *QdrantStore) Delete(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentID, documentID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete %q failed: %w", documentID, err)
	}
	return nil
}

// Ping calls the Qdrant health endpoint.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// PointID returns the deterministic Qdrant point id of one chunk generation.
func PointID(documentID string, chunkIndex int, contentHash string) string {
	name := fmt.Sprintf("%s#%d#%s", documentID, chunkIndex, contentHash)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// entryFromPoint decodes a scrolled point. ok is false for points that were
// not written by this store.
func entryFromPoint(p *qdrant.RetrievedPoint) (e Entry, hash string, ingested time.Time, ok bool) {
	payload := p.GetPayload()
	docID := payload[payloadDocumentID].GetStringValue()
	hash = payload[payloadContentHash].GetStringValue()
	if docID == "" || hash == "" {
		return Entry{}, "", time.Time{}, false
	}

	vo := p.GetVectors().GetVector()
	vec := vo.GetDense().GetData()
	if len(vec) == 0 {
		vec = vo.GetData() //nolint:staticcheck // servers before 1.13 only fill the flat field
	}
	if len(vec) == 0 {
		return Entry{}, "", time.Time{}, false
	}

	e = Entry{
		Chunk: loader.Chunk{
			DocumentID: docID,
			Index:      int(payload[payloadChunkIndex].GetIntegerValue()),
			Text:       payload[payloadText].GetStringValue(),
			Start:      int(payload[payloadStart].GetIntegerValue()),
			End:        int(payload[payloadEnd].GetIntegerValue()),
			Framework:  payload[payloadFramework].GetStringValue(),
		},
		Vector: vec,
	}
	ingested = time.UnixMilli(payload[payloadIngestedAt].GetIntegerValue()).UTC()
	return e, hash, ingested, true
}
