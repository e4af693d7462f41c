package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/agent"
	"github.com/servicedesk_bot/backend/internal/ai"
	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/db"
	"github.com/servicedesk_bot/backend/internal/draft"
	"github.com/servicedesk_bot/backend/internal/geocode"
	"github.com/servicedesk_bot/backend/internal/kv"
	"github.com/servicedesk_bot/backend/internal/metrics"
	"github.com/servicedesk_bot/backend/internal/observability"
	"github.com/servicedesk_bot/backend/internal/onec"
	"github.com/servicedesk_bot/backend/internal/service"
	"github.com/servicedesk_bot/backend/internal/throttle"
	"github.com/servicedesk_bot/backend/internal/tools"
	"github.com/servicedesk_bot/backend/internal/zone"
)

// history is what both history stores offer to the service and the
// operator routes.
type history interface {
	service.HistoryStore
	Ping(ctx context.Context) error
	CountByChat(ctx context.Context, limit int) (map[int64]int, error)
}

type app struct {
	KV       *badger.DB
	Catalog  *config.CatalogHolder
	Drafts   *draft.Store
	Throttle *throttle.Throttle
	History  history
	Lanes    *service.Lanes
	Chats    *service.ChatService

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	catalog, err := config.NewCatalogHolder(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	a.Catalog = catalog

	a.KV, err = kv.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.KV.Close() })

	a.Drafts = draft.NewStore(a.KV, catalog, logger.With().Str("component", "drafts").Logger())
	a.Throttle = throttle.New(a.KV, logger.With().Str("component", "throttle").Logger())

	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, chat history kept in memory")
		a.History = db.NewMemory(cfg.HistoryLimit * 5)
	} else {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.History = store
	}

	registry := tools.New(&tools.Deps{
		Drafts:   a.Drafts,
		Geocoder: newGeocoder(cfg, logger),
		Zones:    zone.NewClassifier(catalog),
		Backend:  newBackend(cfg, logger),
		Limiter:  a.Throttle,
		Catalog:  catalog,
		DailyCap: cfg.DailyTicketCap,
		Logger:   logger.With().Str("component", "tools").Logger(),
	})

	policy, err := newPolicy(cfg, logger)
	if err != nil {
		return nil, err
	}
	orch := agent.NewOrchestrator(registry, policy, catalog, logger.With().Str("component", "agent").Logger())
	orch.Drafts = a.Drafts
	orch.MaxIterations = cfg.MaxIterations
	orch.Tracer = observability.Tracer()

	a.Lanes = service.NewLanes(32, 5*time.Minute)
	a.closers = append(a.closers, a.Lanes.Close)

	a.Chats = &service.ChatService{
		Drafts:  a.Drafts,
		Agent:   orch,
		History: a.History,
		Bans:    a.Throttle,
		Flood:   throttle.NewFloodGuard(cfg.FloodRPS, cfg.FloodBurst, cfg.FloodMute),
		Transcriber: ai.HTTPTranscriber{
			BaseURL:  cfg.AssistantBaseURL,
			APIKey:   cfg.AssistantAPIKey,
			Model:    cfg.TranscribeModel,
			Language: "ru",
		},
		Catalog:      catalog,
		Lanes:        a.Lanes,
		HistoryLimit: cfg.HistoryLimit,
		BanDuration:  cfg.BanDuration,
		Logger:       logger.With().Str("component", "chat").Logger(),
	}

	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newGeocoder(cfg config.Config, logger zerolog.Logger) *geocode.Chain {
	client := &http.Client{Timeout: cfg.GeocodeTimeout}
	var providers []geocode.Provider
	if cfg.YandexGeocoderKey != "" {
		providers = append(providers, &geocode.YandexGeocoder{
			BaseURL: cfg.YandexGeocoderURL,
			APIKey:  cfg.YandexGeocoderKey,
			Client:  client,
		})
	}
	providers = append(providers, &geocode.NominatimGeocoder{
		BaseURL:   cfg.NominatimURL,
		UserAgent: cfg.NominatimUserAgent,
		Client:    client,
	})
	return geocode.NewChain(logger.With().Str("component", "geocode").Logger(), cfg.GeocodeTimeout, providers...)
}

func newBackend(cfg config.Config, logger zerolog.Logger) *onec.Client {
	c := onec.NewClient(onec.Config{
		ProxyURL:   cfg.OneCProxyURL,
		OrderPath:  cfg.OneCOrderPath,
		WSPath:     cfg.OneCWSPath,
		ModifyPath: cfg.OneCModifyPath,
		Login:      cfg.OneCLogin,
		Password:   cfg.OneCPassword,
		Token:      cfg.OneCToken,
		Timeout:    cfg.OneCTimeout,
	}, cfg.OneCRetries, logger.With().Str("component", "onec").Logger())
	c.Observe = metrics.ObserveBackend
	return c
}

func newPolicy(cfg config.Config, logger zerolog.Logger) (*agent.InvokePolicy, error) {
	p := &agent.InvokePolicy{
		Primary: ai.OpenAICompatAssistant{
			BaseURL:     cfg.AssistantBaseURL,
			Model:       cfg.AssistantModel,
			APIKey:      cfg.AssistantAPIKey,
			MaxTokens:   cfg.AssistantMaxTok,
			Temperature: cfg.AssistantTemp,
			Timeout:     cfg.ModelTimeout,
		},
		Backoff: cfg.ModelRetryBackoff,
		MaxWait: 30 * time.Second,
		Timeout: cfg.ModelTimeout,
		Logger:  logger.With().Str("component", "model").Logger(),
	}
	if cfg.FallbackAPIKey == "" {
		logger.Info().Msg("no fallback model configured")
		return p, nil
	}
	fallback, err := ai.NewLangChainClient(cfg.FallbackProvider, cfg.FallbackModel, cfg.FallbackAPIKey,
		cfg.FallbackBaseURL, cfg.AssistantMaxTok, cfg.AssistantTemp)
	if err != nil {
		return nil, fmt.Errorf("fallback model: %w", err)
	}
	p.Fallback = fallback
	return p, nil
}
