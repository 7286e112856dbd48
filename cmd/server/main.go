// Command server is the composition root for the notes RAG service: it
// wires configuration, storage, the vector index, the retrieval engine,
// and the grounded generator behind the HTTP surface in
// notesrag/internal/rag/transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"notesrag/internal/cache"
	"notesrag/internal/config"
	"notesrag/internal/observability"
	"notesrag/internal/rag/embedder"
	"notesrag/internal/rag/generate"
	"notesrag/internal/rag/indexer"
	"notesrag/internal/rag/obs"
	"notesrag/internal/rag/retrieve"
	"notesrag/internal/rag/service"
	"notesrag/internal/rag/transport"
	"notesrag/internal/rag/vectorsync"
	"notesrag/internal/store"
	"notesrag/internal/vectorindex"
	"notesrag/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	log.Info().Str("version", version.Version).Msg("starting notesrag")

	baseCtx := context.Background()

	shutdown, err := observability.InitOTel(baseCtx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	httpClient := observability.NewHTTPClient(&http.Client{Transport: tr})

	chunkStore, err := newChunkStore(baseCtx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	vector, err := newVectorIndex(baseCtx, cfg, chunkStore)
	if err != nil {
		return fmt.Errorf("init vector index: %w", err)
	}
	log.Info().Str("backend", vector.Name()).Msg("vector index backend selected")

	emb := newEmbedder(cfg.Embedding)

	ix, stopVectorSync := newIndexer(baseCtx, cfg.Kafka, chunkStore, vector, emb, cfg.Chunking, log.Logger)
	defer stopVectorSync()

	chSink := obs.NewClickHouseSink(baseCtx, cfg.ClickHouse, log.Logger)
	defer chSink.Close()

	redisL2 := cache.NewRedisRetrievalCache(cfg.Redis, 3*time.Minute, log.Logger)
	defer redisL2.Close()

	eng := &retrieve.Engine{
		Store:    chunkStore,
		Vector:   vector,
		Embedder: emb,
		Cache:    cache.NewLayers(),
		Cfg:      cfg.Retrieval,
		Ctx:      cfg.Context,
		Log:      log.Logger,
		Obs:      chSink,
		Metrics:  obs.NewOtelMetrics(),
		RedisL2:  redisL2,
	}
	defer eng.Cache.Stop()

	provider, err := newProvider(cfg, httpClient)
	if err != nil {
		return fmt.Errorf("init generator provider: %w", err)
	}
	gen := generate.New(provider, cfg.Chat.Timeout())

	svc := service.New(ix, eng, gen, log.Logger)

	e := echo.New()
	e.HideBanner = true
	transport.NewHandler(svc).Register(e.Group("/api"))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()
	log.Info().Str("addr", addr).Str("provider", provider.Name()).Msg("notesrag server listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newChunkStore selects Postgres when a DSN is configured, falling back to
// the in-process memory store otherwise.
func newChunkStore(ctx context.Context, cfg config.PostgresConfig) (store.ChunkStore, error) {
	if cfg.DSN == "" {
		log.Warn().Msg("no POSTGRES_DSN configured, using in-memory chunk store")
		return store.NewMemory(), nil
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return store.NewPostgres(ctx, pool)
}

// newVectorIndex picks the ANN backend named by VECTOR_INDEX_BACKEND,
// falling back to the full-scan adapter when the chosen backend lacks the
// configuration it needs to run.
func newVectorIndex(ctx context.Context, cfg config.Config, chunks store.ChunkStore) (vectorindex.Adapter, error) {
	switch cfg.VectorIndexBackend {
	case "vertex":
		if !cfg.Vertex.Configured() {
			log.Warn().Msg("vertex backend requested but not configured, falling back to full-scan")
			return vectorindex.NewFallback(chunks, log.Logger), nil
		}
		return vectorindex.NewVertex(ctx, cfg.Vertex)
	case "qdrant":
		adapter, err := vectorindex.NewQdrant(cfg.Qdrant, cfg.Embedding.Dimensions, cfg.Vertex.DistanceMetric)
		if err != nil {
			return nil, err
		}
		if !adapter.Configured() {
			log.Warn().Msg("qdrant backend requested but not configured, falling back to full-scan")
			return vectorindex.NewFallback(chunks, log.Logger), nil
		}
		return adapter, nil
	default:
		return vectorindex.NewFallback(chunks, log.Logger), nil
	}
}

// newIndexer wires the indexer's vector-index propagation path: when Kafka
// brokers are configured it publishes upsert/remove events to the
// vector-sync topic and starts a consumer goroutine that applies them with
// its own retry policy; otherwise it falls back to the in-process
// goroutine publisher. The returned stop func shuts the consumer (if any)
// down and closes the publisher.
func newIndexer(ctx context.Context, kcfg config.KafkaConfig, chunkStore store.ChunkStore, vector vectorindex.Adapter, emb embedder.Embedder, chunkCfg config.ChunkingConfig, logger zerolog.Logger) (*indexer.Indexer, func()) {
	if len(kcfg.Brokers) == 0 || kcfg.Topic == "" {
		return indexer.New(chunkStore, vector, emb, chunkCfg, logger), func() {}
	}

	log.Info().Strs("brokers", kcfg.Brokers).Str("topic", kcfg.Topic).Msg("vector-sync propagating via kafka")
	pub := vectorsync.NewKafka(kcfg)
	ix := indexer.NewWithPublisher(chunkStore, vector, pub, emb, chunkCfg, logger)

	consumer := vectorsync.NewConsumer(kcfg, vector, logger)
	consumerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Run(consumerCtx); err != nil {
			log.Error().Err(err).Msg("vector-sync consumer stopped")
		}
	}()

	return ix, func() {
		cancel()
		<-done
		_ = pub.Close()
	}
}

// newEmbedder calls the configured embedding endpoint when one is set,
// wrapping it in the content-hash cache; it degrades to a deterministic
// local embedder so the service still runs without an embedding API key.
func newEmbedder(cfg config.EmbeddingConfig) embedder.Embedder {
	if cfg.BaseURL == "" {
		log.Warn().Msg("no EMBEDDING_BASE_URL configured, using deterministic local embedder")
		return embedder.NewCaching(embedder.NewDeterministic(cfg.Dimensions, true, 0), 500)
	}
	return embedder.NewCaching(embedder.NewClient(cfg, cfg.Dimensions), 500)
}

// newProvider selects the generator LLM provider named by GENERATOR_PROVIDER.
func newProvider(cfg config.Config, httpClient *http.Client) (generate.Provider, error) {
	switch cfg.GeneratorProvider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, errors.New("GENERATOR_PROVIDER=openai requires OPENAI_API_KEY")
		}
		return generate.NewOpenAI(cfg.OpenAI, httpClient), nil
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, errors.New("GENERATOR_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
		}
		return generate.NewAnthropic(cfg.Anthropic, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown GENERATOR_PROVIDER %q", cfg.GeneratorProvider)
	}
}
