package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"notesrag/internal/config"
)

// Qdrant point IDs must be UUIDs or positive integers; the original
// "{chunkId}:{noteId}" datapoint id is kept in the payload.
const payloadIDField = "_datapoint_id"
const payloadTenantField = "tenant_id"

// Qdrant wraps a qdrant-go-client collection as a vectorindex.Adapter,
// grounded on the teacher's Qdrant vector store.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrant connects to Qdrant over gRPC and ensures the collection exists.
func NewQdrant(cfg config.QdrantConfig, dimensions int, distanceMetric string) (*Qdrant, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	u, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port: %w", err)
	}
	clientCfg := &qdrant.Config{Host: host, Port: portNum}
	if u.Scheme == "https" {
		clientCfg.UseTLS = true
	}
	if apiKey := u.Query().Get("api_key"); apiKey != "" {
		clientCfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	q := &Qdrant{client: client, collection: cfg.Collection, dimension: dimensions, metric: strings.ToLower(distanceMetric)}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "squared_l2", "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "dot_product", "dot", "ip":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func (q *Qdrant) Name() string     { return "qdrant" }
func (q *Qdrant) Configured() bool { return q.client != nil && q.collection != "" }

func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *Qdrant) Upsert(ctx context.Context, datapoints []Datapoint) error {
	points := make([]*qdrant.PointStruct, 0, len(datapoints))
	for _, dp := range datapoints {
		uid := pointUUID(dp.ID)
		payload := map[string]any{payloadIDField: dp.ID, payloadTenantField: dp.TenantID}
		vec := make([]float32, len(dp.Vector))
		copy(vec, dp.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uid),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	return err
}

func (q *Qdrant) Remove(ctx context.Context, ids []string) error {
	uids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		uids = append(uids, qdrant.NewIDUUID(pointUUID(id)))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(uids...),
	})
	return err
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, tenant string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(payloadTenantField, tenant)}}
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		dpID := ""
		if r.Payload != nil {
			if v, ok := r.Payload[payloadIDField]; ok {
				dpID = v.GetStringValue()
			}
		}
		chunkID, noteID := ParseDatapointID(dpID)
		hits = append(hits, Hit{ChunkID: chunkID, NoteID: noteID, Score: toSimilarity(float64(r.Score), q.metric)})
	}
	return hits, nil
}

// toSimilarity converts the raw distance/score Qdrant returns into a
// [0,1] similarity: Euclidean distances map to 1/(1+d) as in the Vertex
// adapter, while cosine and dot scores, which Qdrant already reports as
// similarities, are only clamped.
func toSimilarity(d float64, metric string) float64 {
	switch metric {
	case "squared_l2", "l2", "euclidean":
		return 1 / (1 + d)
	default:
		return clamp01(d)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (q *Qdrant) Close() error { return q.client.Close() }
