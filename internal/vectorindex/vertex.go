package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"notesrag/internal/config"
)

// Vertex calls a Vertex AI Matching Engine findNeighbors endpoint. A single
// bearer token and http.Client are reused process-wide, grounded on the
// teacher's oauth2.Config-based token handling in internal/auth, refreshed
// 60 seconds before expiry.
type Vertex struct {
	cfg        config.VertexConfig
	httpClient *http.Client

	mu        sync.Mutex
	tokenSrc  oauth2.TokenSource
	token     *oauth2.Token
}

// NewVertex constructs a Vertex adapter using application-default
// credentials (GOOGLE_APPLICATION_CREDENTIALS or workload identity).
func NewVertex(ctx context.Context, cfg config.VertexConfig) (*Vertex, error) {
	ts, err := google.DefaultTokenSource(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("vertex default credentials: %w", err)
	}
	return &Vertex{cfg: cfg, httpClient: &http.Client{Timeout: 15 * time.Second}, tokenSrc: ts}, nil
}

func (v *Vertex) Name() string     { return "vertex-ann" }
func (v *Vertex) Configured() bool { return v.cfg.Configured() }

func (v *Vertex) bearerToken(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.token != nil && time.Until(v.token.Expiry) > 60*time.Second {
		return v.token.AccessToken, nil
	}
	tok, err := v.tokenSrc.Token()
	if err != nil {
		return "", err
	}
	v.token = tok
	return tok.AccessToken, nil
}

type findNeighborsRequest struct {
	DeployedIndexID string                     `json:"deployedIndexId"`
	Queries         []findNeighborsQuery       `json:"queries"`
	ReturnFullDP    bool                       `json:"returnFullDatapoint"`
}

type findNeighborsQuery struct {
	Datapoint        datapointPayload `json:"datapoint"`
	NeighborCount    int              `json:"neighborCount"`
}

type datapointPayload struct {
	FeatureVector []float32 `json:"featureVector"`
	Restricts     []restrict `json:"restricts"`
}

type restrict struct {
	Namespace string   `json:"namespace"`
	AllowList []string `json:"allowList"`
}

type findNeighborsResponse struct {
	NearestNeighbors []struct {
		Neighbors []struct {
			Datapoint struct {
				DatapointID string `json:"datapointId"`
			} `json:"datapoint"`
			Distance float64 `json:"distance"`
		} `json:"neighbors"`
	} `json:"nearestNeighbors"`
}

func (v *Vertex) Search(ctx context.Context, vector []float32, tenant string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	token, err := v.bearerToken(ctx)
	if err != nil {
		return nil, err
	}
	reqBody := findNeighborsRequest{
		DeployedIndexID: v.cfg.DeployedIndexID,
		Queries: []findNeighborsQuery{{
			Datapoint: datapointPayload{
				FeatureVector: vector,
				Restricts:     []restrict{{Namespace: "tenantId", AllowList: []string{tenant}}},
			},
			NeighborCount: k,
		}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://%s:findNeighbors", v.cfg.IndexEndpointResource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vertex findNeighbors: %s: %s", resp.Status, string(b))
	}
	var fr findNeighborsResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, err
	}
	if len(fr.NearestNeighbors) == 0 {
		return nil, nil
	}
	hits := make([]Hit, 0, k)
	for _, n := range fr.NearestNeighbors[0].Neighbors {
		chunkID, noteID := ParseDatapointID(n.Datapoint.DatapointID)
		hits = append(hits, Hit{ChunkID: chunkID, NoteID: noteID, Score: distanceToSimilarity(n.Distance, v.cfg.DistanceMetric)})
	}
	return hits, nil
}

// distanceToSimilarity converts a Vertex-reported distance to a [0,1]
// similarity: cosine/dot-product use 1-d clamped, squared-L2 uses 1/(1+d).
func distanceToSimilarity(d float64, metric string) float64 {
	switch strings.ToUpper(metric) {
	case "SQUARED_L2":
		return 1 / (1 + d)
	default: // COSINE, DOT_PRODUCT
		return clamp01(1 - d)
	}
}

type upsertDatapointsRequest struct {
	Datapoints []vertexDatapoint `json:"datapoints"`
}

type vertexDatapoint struct {
	DatapointID   string     `json:"datapointId"`
	FeatureVector []float32  `json:"featureVector"`
	Restricts     []restrict `json:"restricts"`
}

// Upsert and Remove are called best-effort by the indexer; callers must
// treat failures as non-fatal per the degradation-tolerance contract.
func (v *Vertex) Upsert(ctx context.Context, datapoints []Datapoint) error {
	if len(datapoints) == 0 {
		return nil
	}
	token, err := v.bearerToken(ctx)
	if err != nil {
		return err
	}
	dps := make([]vertexDatapoint, 0, len(datapoints))
	for _, dp := range datapoints {
		dps = append(dps, vertexDatapoint{
			DatapointID:   dp.ID,
			FeatureVector: dp.Vector,
			Restricts:     []restrict{{Namespace: "tenantId", AllowList: []string{dp.TenantID}}},
		})
	}
	body, err := json.Marshal(upsertDatapointsRequest{Datapoints: dps})
	if err != nil {
		return err
	}
	return v.indexMutate(ctx, token, "upsertDatapoints", body)
}

func (v *Vertex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	token, err := v.bearerToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"datapointIds": ids})
	if err != nil {
		return err
	}
	return v.indexMutate(ctx, token, "removeDatapoints", body)
}

func (v *Vertex) indexMutate(ctx context.Context, token, op string, body []byte) error {
	url := fmt.Sprintf("https://%s:%s", v.cfg.IndexEndpointResource, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vertex %s: %s: %s", op, resp.Status, string(b))
	}
	return nil
}
