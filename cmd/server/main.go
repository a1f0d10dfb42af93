package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yourusername/voice-call-engine/internal/api"
	"github.com/yourusername/voice-call-engine/internal/config"
	"github.com/yourusername/voice-call-engine/internal/engine"
	"github.com/yourusername/voice-call-engine/internal/llm"
	"github.com/yourusername/voice-call-engine/internal/logger"
	appMiddleware "github.com/yourusername/voice-call-engine/internal/middleware"
	"github.com/yourusername/voice-call-engine/internal/models"
	"github.com/yourusername/voice-call-engine/internal/security"
	"github.com/yourusername/voice-call-engine/internal/telephony"
	"github.com/yourusername/voice-call-engine/internal/tracer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// Not an error - we might be using system env vars.
	}

	cfg := config.Load()
	logger.Init(cfg.IsDevelopment())
	log := logger.WithComponent("main")

	log.Info().Msg("Starting voice call engine")

	if err := cfg.RequireCredentials(); err != nil {
		log.Fatal().Err(err).Msg("missing required configuration")
	}

	profile := models.DefaultAgentProfile()
	llmClient := llm.NewClient(cfg.AnthropicKey, cfg.OpenAIKey)
	outboundCaller := telephony.NewOutboundCaller(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.PublicURL)

	presidioConfig := security.NewConfig().
		WithEnabled(cfg.PresidioEnabled).
		WithURLs(cfg.PresidioAnalyzerURL, cfg.PresidioAnonymizeURL)
	redactor := security.NewRedactor(presidioConfig, logger.WithComponent("security"))

	tracerProvider := sdktrace.NewTracerProvider()
	defer tracerProvider.Shutdown(context.Background()) //nolint:errcheck

	newCallDeps := func() engine.Deps {
		return engine.Deps{
			LLM:              llmClient,
			Tracer:           tracer.New(tracerProvider, redactor, cfg.TraceDir),
			Profile:          profile,
			RecognizerAPIKey: cfg.RecognizerAPIKey,
			RecognizerModel:  cfg.RecognizerModel,
			RecognizerURL:    cfg.RecognizerURL,
			TTSEndpoint:      cfg.TTSEndpoint,
			TTSAPIKey:        cfg.TTSAPIKey,
			PoolSize:         cfg.PoolSize,
			PoolTTL:          cfg.PoolTTL,
		}
	}

	handlers := api.New(newCallDeps, outboundCaller, redactor, cfg.PublicURL, cfg.TraceDir)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)

	corsOrigins := []string{"*"}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health)
	r.Get("/twiml", handlers.TwiML)
	r.Get("/ws", handlers.WS)
	r.Get("/trace/latest", handlers.TraceLatest)
	r.Post("/call/{number}", handlers.Call)

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")

	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}
