// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/AleutianAI/TurnGate/services/llm"
	"github.com/AleutianAI/TurnGate/services/turngate/canonops"
	"github.com/AleutianAI/TurnGate/services/turngate/config"
	"github.com/AleutianAI/TurnGate/services/turngate/gatekeeper"
	"github.com/AleutianAI/TurnGate/services/turngate/handlers"
	"github.com/AleutianAI/TurnGate/services/turngate/middleware"
	"github.com/AleutianAI/TurnGate/services/turngate/observability"
	"github.com/AleutianAI/TurnGate/services/turngate/policy"
	"github.com/AleutianAI/TurnGate/services/turngate/retrieval"
	"github.com/AleutianAI/TurnGate/services/turngate/routes"
	"github.com/AleutianAI/TurnGate/services/turngate/storage"
	"github.com/AleutianAI/TurnGate/services/turngate/telemetry"
	"github.com/AleutianAI/TurnGate/services/turngate/tools"
	"github.com/AleutianAI/TurnGate/services/turngate/writeback"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	if endpoint == "" {
		endpoint = "turngate-otel-collector:4317"
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("turngate-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func newWeaviateClient(rawURL string) *weaviate.Client {
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" {
		slog.Warn("Weaviate URL not set; retrieval and ingestion are unavailable")
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		slog.Warn("Weaviate URL is invalid; retrieval and ingestion are unavailable",
			"url", rawURL, "error", err)
		return nil
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	return client
}

func newLLMClient(cfg *config.Config) (llm.LLMClient, error) {
	switch cfg.LLMBackend {
	case "openai":
		slog.Info("Using OpenAI LLM backend", "model", cfg.OpenAIModel)
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey: cfg.OpenAIKey,
			Model:  cfg.OpenAIModel,
		})
	case "anthropic":
		slog.Info("Using Anthropic LLM backend", "model", cfg.AnthropicModel)
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey: cfg.AnthropicKey,
			Model:  cfg.AnthropicModel,
		})
	default:
		slog.Info("Using Ollama LLM backend", "model", cfg.OllamaModel)
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
		})
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("TURNGATE_CONFIG"), os.Getenv)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	cleanup, err := initTracer(cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer db.Close()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go storage.RunGC(rootCtx, db)

	overlay, err := canonops.NewOverlayProvider(cfg.OverlayPath)
	if err != nil {
		log.Fatalf("failed to load canon overlay: %v", err)
	}
	if cfg.OverlayPath != "" {
		go func() {
			if err := overlay.Watch(rootCtx); err != nil {
				slog.Error("Overlay watcher stopped", "error", err)
			}
		}()
	}

	policyEngine, err := policy.NewEngine()
	if err != nil {
		log.Fatalf("failed to initialize the policy engine: %v", err)
	}

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		log.Fatalf("failed to initialize LLM client: %v", err)
	}

	weaviateClient := newWeaviateClient(cfg.WeaviateURL)
	storeRouter := retrieval.NewRouter(cfg.CanonStore, cfg.ThreadsStore)
	retriever := retrieval.NewRetriever(retrieval.NewWeaviateSearcher(weaviateClient, storeRouter))
	inventory := retrieval.NewInventory(weaviateClient, storeRouter)

	packs := writeback.NewBadgerStore(db)
	recorder := telemetry.NewRecorder(db, metrics.RecordDegradedTurn)

	static := []tools.Tool{
		tools.NewDirListTool(cfg.ListerRoots),
		tools.NormalizeTool{},
	}

	turn := handlers.NewTurnHandler(
		gatekeeper.New(middleware.NewAdminVerifier(cfg.AdminToken), cfg.IsProduction()),
		storeRouter,
		retriever,
		overlay,
		llmClient,
		writeback.NewService(packs),
		recorder,
		metrics,
		static,
		cfg.ToolWorkers,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware("turngate-service"))

	routes.SetupRoutes(router, routes.Deps{
		Turn:      turn,
		Weaviate:  weaviateClient,
		Router:    storeRouter,
		Inventory: inventory,
		Policy:    policyEngine,
		Recorder:  recorder,
		Packs:     packs,
		Limiter:   middleware.NewConversationLimiter(cfg.TurnsPerMinute),
	})

	defer handlers.PurgeAllSecureMemory()

	slog.Info("Starting TurnGate", "port", cfg.Port, "environment", cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
