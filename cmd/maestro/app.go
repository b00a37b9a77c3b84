package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/databases"
	"github.com/murtaza-nasir/maestro-sub003/pkg/embedders"
	"github.com/murtaza-nasir/maestro-sub003/pkg/ingest"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/logger"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
	"github.com/murtaza-nasir/maestro-sub003/pkg/research"
	"github.com/murtaza-nasir/maestro-sub003/pkg/session"
	"github.com/murtaza-nasir/maestro-sub003/pkg/store"
	"github.com/murtaza-nasir/maestro-sub003/pkg/tools"
	"github.com/murtaza-nasir/maestro-sub003/pkg/utils"
	"github.com/murtaza-nasir/maestro-sub003/pkg/websearch"
)

// tokenizerModel selects the tiktoken encoding used for chunk sizing and
// sparse vectors. It only has to be stable, not match the chat models.
const tokenizerModel = "gpt-4o-mini"

// app holds the core wiring shared by every command: configuration, the
// relational store, the mission context store, and the settings resolver.
type app struct {
	cfg      *config.Config
	store    *store.Store
	missions *mission.ContextStore
	sessions *session.Manager
	resolver *config.Resolver
	logger   *slog.Logger
	cleanup  []func()
}

// newApp loads configuration, initializes logging, opens the SQLite store
// and restores persisted missions and the resolver's settings layers.
func newApp(cli *CLI) (*app, error) {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return nil, err
	}
	logCleanup, err := initLogging(cli, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger.GetLogger()}
	a.cleanup = append(a.cleanup, logCleanup)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening store %s: %w", cfg.Store.Path, err)
	}
	a.store = st
	a.cleanup = append(a.cleanup, func() { st.Close() })

	userSettings := make(map[string]any)
	if _, err := st.Setting("user_settings", &userSettings); err != nil {
		a.logger.Warn("could not load user settings", "error", err)
	}

	a.resolver = config.NewResolver(
		func(missionID, key string) (any, bool) {
			if a.missions == nil {
				return nil, false
			}
			return a.missions.MetadataValue(missionID, key)
		},
		func(path string) (any, bool) {
			return config.LookupUserPath(userSettings, path)
		},
	)

	thoughtLimit, _ := a.resolver.GetInt(config.ParamThoughtPadLimit, "")
	a.missions = mission.NewContextStore(st, thoughtLimit)
	a.sessions = session.NewManager(st, a.logger)

	restored, err := st.LoadMissions()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("restoring missions: %w", err)
	}
	for _, m := range restored {
		a.missions.Restore(m)
	}
	if len(restored) > 0 {
		a.logger.Info("missions restored", "count", len(restored))
	}

	return a, nil
}

func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// newDispatcher builds the model dispatcher over the configured providers.
func (a *app) newDispatcher() (*model.Dispatcher, error) {
	providers, err := llms.NewProviderRegistryFromConfig(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("creating providers: %w", err)
	}
	return model.NewDispatcher(providers, a.resolver), nil
}

// webStack bundles the web retrieval pieces: the search provider, the
// caching page fetcher, and their pipeline adapters.
type webStack struct {
	provider websearch.Provider
	fetcher  *tools.Fetcher
	searcher research.Searcher
	content  research.Fetcher
}

func (a *app) newWebStack() (*webStack, error) {
	provider, err := websearch.NewProviderFromConfig(&a.cfg.WebSearch)
	if err != nil {
		return nil, fmt.Errorf("creating web search provider: %w", err)
	}
	cacheDir := filepath.Join(filepath.Dir(a.cfg.Store.Path), "web_cache")
	fetcher := tools.NewFetcher(cacheDir, 7)
	return &webStack{
		provider: provider,
		fetcher:  fetcher,
		searcher: research.NewWebSearcher(provider),
		content:  research.NewContentFetcher(fetcher),
	}, nil
}

// retrieval bundles the document-store dependencies: vector store, dense
// embedder, sparse encoder and token counter.
type retrieval struct {
	store    databases.VectorStore
	embedder *embedders.OpenAIEmbedder
	sparse   *embedders.SparseEncoder
	counter  *utils.TokenCounter
}

func (r *retrieval) Close() {
	r.embedder.Close()
	r.store.Close()
}

// newRetrieval connects the vector store and embedding endpoint. For
// pgvector the schema is created on first use.
func (a *app) newRetrieval(ctx context.Context) (*retrieval, error) {
	vs, err := databases.NewVectorStoreFromConfig(&a.cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("connecting vector store: %w", err)
	}
	embedder, err := embedders.NewOpenAIEmbedderFromConfig(&a.cfg.Embedder)
	if err != nil {
		vs.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	if pg, ok := vs.(*databases.PgVectorStore); ok {
		if err := pg.EnsureSchema(ctx, embedder.Dimension()); err != nil {
			embedder.Close()
			vs.Close()
			return nil, fmt.Errorf("preparing pgvector schema: %w", err)
		}
	}
	counter, err := utils.NewTokenCounter(tokenizerModel)
	if err != nil {
		embedder.Close()
		vs.Close()
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}
	return &retrieval{
		store:    vs,
		embedder: embedder,
		sparse:   embedders.NewSparseEncoder(counter),
		counter:  counter,
	}, nil
}

// newToolRegistry assembles the /api/tools surface from whatever backends
// are available; web and ret may be nil.
func (a *app) newToolRegistry(dispatcher *model.Dispatcher, web *webStack, ret *retrieval) *tools.ToolRegistry {
	reg := tools.NewToolRegistry()
	register := func(t tools.Tool) {
		if err := reg.RegisterTool(t); err != nil {
			a.logger.Warn("could not register tool", "tool", t.GetName(), "error", err)
		}
	}

	register(tools.NewCalculatorTool())
	register(tools.NewPythonTool())
	if reader, err := tools.NewFileReaderTool("."); err == nil {
		register(reader)
	} else {
		a.logger.Warn("file reader tool disabled", "error", err)
	}

	arxivCache := filepath.Join(filepath.Dir(a.cfg.Store.Path), "arxiv_cache")
	register(tools.NewArxivTool(tools.NewArxivFetcher(arxivCache, nil)))

	if web != nil {
		register(tools.NewWebSearchTool(web.provider, nil))
		register(tools.NewFetcherTool(web.fetcher))
	}
	if ret != nil {
		register(tools.NewDocumentSearchTool(dispatcher, ret.store, ret.embedder, ret.sparse))
	}
	return reg
}

// newIngestor builds the ingestion pipeline over a retrieval bundle.
func (a *app) newIngestor(r *retrieval, chunkSize, chunkOverlap int) *ingest.Ingestor {
	chunker := ingest.NewChunker(r.counter, chunkSize, chunkOverlap)
	return ingest.NewIngestor(r.store, r.embedder, r.sparse, chunker, a.logger)
}
