package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	adapteranthropic "github.com/tokligence/chatstream/internal/adapter/anthropic"
	adaptergemini "github.com/tokligence/chatstream/internal/adapter/gemini"
	adapterhf "github.com/tokligence/chatstream/internal/adapter/huggingface"
	"github.com/tokligence/chatstream/internal/adapter/loopback"
	adaptermistral "github.com/tokligence/chatstream/internal/adapter/mistral"
	adapteropenai "github.com/tokligence/chatstream/internal/adapter/openai"
	adapterrouter "github.com/tokligence/chatstream/internal/adapter/router"
	adapterupstage "github.com/tokligence/chatstream/internal/adapter/upstage"
	"github.com/tokligence/chatstream/internal/attachcache"
	"github.com/tokligence/chatstream/internal/attachment"
	"github.com/tokligence/chatstream/internal/config"
	"github.com/tokligence/chatstream/internal/health"
	"github.com/tokligence/chatstream/internal/history"
	historyasync "github.com/tokligence/chatstream/internal/history/async"
	historypg "github.com/tokligence/chatstream/internal/history/postgres"
	historysqlite "github.com/tokligence/chatstream/internal/history/sqlite"
	"github.com/tokligence/chatstream/internal/httpserver"
	"github.com/tokligence/chatstream/internal/logging"
	"github.com/tokligence/chatstream/internal/metrics"
	"github.com/tokligence/chatstream/internal/pdftext"
	"github.com/tokligence/chatstream/internal/ratelimit"
	"github.com/tokligence/chatstream/internal/stream"
	"github.com/tokligence/chatstream/internal/summary"
	"github.com/tokligence/chatstream/internal/version"
)

func main() {
	root := flag.String("config-root", ".", "directory containing config/")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.FullInfo())
		return
	}

	cfg, err := config.Load(*root)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logCloser, err := logging.Setup(cfg.LogFile, "chatstreamd")
	if err != nil {
		log.Fatalf("init rotating log: %v", err)
	}
	defer logCloser.Close()
	log.Printf("chatstreamd %s env=%s", version.Info(), cfg.Environment)

	collector := metrics.NewCollector()

	store, err := openHistory(cfg)
	if err != nil {
		log.Fatalf("open history store: %v", err)
	}
	defer store.Close()

	persister := historyasync.New(store, historyasync.Config{
		Workers:   cfg.PersistWorkers,
		QueueSize: cfg.PersistQueue,
		Logger:    logging.Component("history-async"),
		OnResult: func(sessionID string, err error) {
			if err != nil {
				collector.PersistFailed()
				return
			}
			collector.PersistSaved()
		},
	})

	materializer := attachment.New(attachment.Config{
		Root:   cfg.AttachmentDir,
		Logger: logging.Component("attachment"),
		OnError: func(string, string, error) {
			collector.AttachmentFailed()
		},
	})

	cacheCfg := attachcache.Config{MaxSessions: cfg.AttachmentCacheSessions, IdleTTL: cfg.AttachmentCacheIdleTTL}
	var purgers []func(string)
	registerCache := func(name string, purge func(string), stats func() (int64, int64)) {
		purgers = append(purgers, purge)
		collector.RegisterCache(name, stats)
	}

	adapters, openaiAdapter, geminiAdapter := buildAdapters(cfg, cacheCfg, registerCache)
	if cfg.LoopbackEnabled {
		adapters = append(adapters, loopback.New(0))
	}
	if len(adapters) == 0 {
		log.Printf("no adapters configured; set vendor credentials or enable loopback")
	}

	modelRouter := buildRouter(cfg, adapters)

	controller := stream.NewController(stream.Config{
		Materializer:  materializer,
		Persister:     persister,
		Metrics:       collector,
		Logger:        logging.Component("stream"),
		ProgressEvery: cfg.ProgressEvery,
	})

	prompts, err := summary.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		log.Fatalf("load prompts: %v", err)
	}
	summaries := make(map[string]*summary.Service)
	if openaiAdapter != nil {
		summaries[config.VendorOpenAI] = summary.New(summary.Config{
			Store:        store,
			Generator:    summary.OpenAIGenerator(openaiAdapter),
			Prompts:      prompts,
			DefaultModel: summary.DefaultOpenAIModel,
			Logger:       logging.Component("summary"),
		})
	}
	if geminiAdapter != nil {
		summaries[config.VendorGemini] = summary.New(summary.Config{
			Store:        store,
			Generator:    geminiAdapter,
			Prompts:      prompts,
			DefaultModel: summary.DefaultGeminiModel,
			Logger:       logging.Component("summary"),
		})
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if cfg.WatchPrompts && len(summaries) > 0 {
		err := summary.WatchPrompts(watchCtx, cfg.PromptsFile, logging.Component("summary"), func(p summary.Prompts) {
			for _, svc := range summaries {
				svc.SetPrompts(p)
			}
		})
		if err != nil {
			log.Printf("prompt hot reload disabled: %v", err)
		}
	}

	catalog, err := config.LoadCatalog(cfg.ModelsFile)
	if err != nil {
		log.Fatalf("load model catalog: %v", err)
	}

	checker := health.New(health.Config{
		History:       store,
		AttachmentDir: materializer.Root(),
		Vendors:       cfg.Vendors.ConfiguredList(),
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		KeyHeader:         stream.SessionHeader,
		Logger:            logging.Component("ratelimit"),
	})

	httpSrv := httpserver.New(httpserver.Config{
		Controller:     controller,
		Adapters:       adapters,
		ModelRouter:    modelRouter,
		History:        store,
		Materializer:   materializer,
		SessionPurgers: purgers,
		Summaries:      summaries,
		Catalog:        catalog,
		Vendors:        cfg.Vendors,
		Health:         checker,
		Metrics:        collector,
		RateLimiter:    limiter,
		StaticDir:      cfg.StaticDir,
		CORSOrigins:    cfg.CORSOrigins,
	})
	httpSrv.SetLogger(cfg.LogLevel, logging.Component("chatstreamd/http"))

	// WriteTimeout stays zero: streams last as long as the vendor keeps sending.
	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("chatstream server listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := persister.Close(shutdownCtx); err != nil {
		log.Printf("history drain incomplete: %v", err)
	}
}

func openHistory(cfg config.Config) (history.Store, error) {
	switch cfg.HistoryBackend {
	case "postgres":
		return historypg.New(historypg.Config{DSN: cfg.HistoryDSN, Logger: logging.Component("history-postgres")})
	default:
		log.Printf("history store sqlite path=%s", cfg.HistoryPath)
		return historysqlite.New(cfg.HistoryPath)
	}
}

// buildAdapters creates one adapter per vendor with credentials. Each vendor
// gets its own attachment cache so hit rates are reported per vendor.
func buildAdapters(cfg config.Config, cacheCfg attachcache.Config, register func(string, func(string), func() (int64, int64))) ([]adapter.StreamingChatAdapter, *adapteropenai.OpenAIAdapter, *adaptergemini.GeminiAdapter) {
	v := cfg.Vendors
	var (
		out       []adapter.StreamingChatAdapter
		openaiOut *adapteropenai.OpenAIAdapter
		geminiOut *adaptergemini.GeminiAdapter
	)

	compatible := func(vendor, key, baseURL string, build func(adapteropenai.Config) (*adapteropenai.OpenAIAdapter, error)) *adapteropenai.OpenAIAdapter {
		if !v.Configured(vendor) {
			return nil
		}
		cache := attachcache.New[string](cacheCfg)
		a, err := build(adapteropenai.Config{
			APIKey:    key,
			BaseURL:   baseURL,
			Extractor: pdftext.PlainText{},
			TextCache: cache,
			Logger:    logging.Component("adapter/" + vendor),
		})
		if err != nil {
			log.Printf("%s adapter init failed: %v", vendor, err)
			return nil
		}
		register(vendor, cache.Purge, cache.Stats)
		out = append(out, a)
		return a
	}

	openaiOut = compatible(config.VendorOpenAI, v.OpenAIAPIKey, v.OpenAIBaseURL, func(c adapteropenai.Config) (*adapteropenai.OpenAIAdapter, error) {
		c.Organization = v.OpenAIOrganization
		return adapteropenai.New(c)
	})

	if v.Configured(config.VendorAnthropic) {
		docs := attachcache.New[adapteranthropic.DocumentBlock](cacheCfg)
		a, err := adapteranthropic.New(adapteranthropic.Config{
			APIKey:    v.AnthropicAPIKey,
			BaseURL:   v.AnthropicBaseURL,
			Version:   v.AnthropicVersion,
			Documents: docs,
			Logger:    logging.Component("adapter/anthropic"),
		})
		if err != nil {
			log.Printf("anthropic adapter init failed: %v", err)
		} else {
			register(config.VendorAnthropic, docs.Purge, docs.Stats)
			out = append(out, a)
		}
	}

	if v.Configured(config.VendorGemini) {
		files := attachcache.New[adaptergemini.FileData](cacheCfg)
		a, err := adaptergemini.New(adaptergemini.Config{
			APIKey:  v.GoogleAPIKey,
			BaseURL: v.GeminiBaseURL,
			Files:   files,
			Logger:  logging.Component("adapter/gemini"),
		})
		if err != nil {
			log.Printf("gemini adapter init failed: %v", err)
		} else {
			register(config.VendorGemini, files.Purge, files.Stats)
			out = append(out, a)
			geminiOut = a
		}
	}

	compatible(config.VendorHuggingFace, v.HuggingFaceToken, v.HuggingFaceBaseURL, adapterhf.New)
	compatible(config.VendorMistral, v.MistralAPIKey, v.MistralBaseURL, adaptermistral.New)
	compatible(config.VendorUpstage, v.UpstageAPIKey, v.UpstageBaseURL, adapterupstage.New)

	return out, openaiOut, geminiOut
}

func buildRouter(cfg config.Config, adapters []adapter.StreamingChatAdapter) *adapterrouter.Router {
	r := adapterrouter.New()
	for _, a := range adapters {
		if err := r.RegisterAdapter(a); err != nil {
			log.Printf("adapter %q rejected: %v", a.Name(), err)
		}
	}
	routes := cfg.Routes
	if len(routes) == 0 {
		routes = adapterrouter.DefaultRoutes
	}
	for pattern, name := range routes {
		if _, ok := r.Adapter(name); !ok {
			continue
		}
		if err := r.RegisterRoute(pattern, name); err != nil {
			log.Printf("route rule %q=>%q rejected: %v", pattern, name, err)
		}
	}
	if cfg.FallbackAdapter != "" {
		if err := r.SetFallback(cfg.FallbackAdapter); err != nil {
			log.Printf("fallback adapter unavailable: %v", err)
		}
	}
	log.Printf("adapters registered: %v", r.ListAdapters())
	log.Printf("routes configured: %v", r.ListRoutes())
	return r
}
