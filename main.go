package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"
	"golang.org/x/sync/errgroup"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
	game "github.com/CodeAndHammer/hearsay/internal/game"
	handlers "github.com/CodeAndHammer/hearsay/internal/handlers"
	live "github.com/CodeAndHammer/hearsay/internal/live"
	"github.com/CodeAndHammer/hearsay/internal/llm/openai"
	models "github.com/CodeAndHammer/hearsay/internal/models"
	observe "github.com/CodeAndHammer/hearsay/internal/observe"
	phrase "github.com/CodeAndHammer/hearsay/internal/phrase"
	phrasecache "github.com/CodeAndHammer/hearsay/internal/phrasecache"
	prompts "github.com/CodeAndHammer/hearsay/internal/prompts"
	session "github.com/CodeAndHammer/hearsay/internal/session"
	speech "github.com/CodeAndHammer/hearsay/internal/speech"
	translate "github.com/CodeAndHammer/hearsay/internal/translate"
	util "github.com/CodeAndHammer/hearsay/internal/util"
)

const (
	limiterCleanupInterval = 30 * time.Minute
	shutdownTimeout        = 10 * time.Second
)

func main() {
	_ = godotenv.Load()

	isProduction := os.Getenv("GIN_MODE") == "release" || os.Getenv("ENV") == "production"
	util.LogInfo("Starting Hearsay in %s mode", map[bool]string{true: "production", false: "development"}[isProduction])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, shutdownMetrics, err := observe.InitProvider(ctx, "hearsay")
	if err != nil {
		util.LogFatal("Failed to initialise metrics: %v", err)
	}

	app, err := newApp(isProduction, metrics)
	if err != nil {
		util.LogFatal("Failed to configure application: %v", err)
	}

	router := newRouter(app, isProduction)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(gctx, router) })
	g.Go(func() error { return session.RunSessionCleanup(gctx, app, session.CleanupInterval) })
	g.Go(func() error { return runLimiterCleanup(gctx, app, limiterCleanupInterval) })

	if err := g.Wait(); err != nil {
		util.LogError("Server stopped with error: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownMetrics(flushCtx); err != nil {
		util.LogWarn("Metrics shutdown: %v", err)
	}
	util.LogInfo("Server shutdown complete")
}

func newApp(isProduction bool, metrics *observe.Metrics) (*models.App, error) {
	strategies, err := prompts.Load(os.Getenv("PROMPTS_FILE"))
	if err != nil {
		return nil, err
	}
	util.LogInfo("Loaded generation strategies: %s", strings.Join(strategies.Names(), ", "))

	providerTimeout := util.GetEnvDuration("PROVIDER_TIMEOUT", phrase.DefaultCallTimeout)
	providerOpts := []openai.Option{
		openai.WithChatModel(util.GetEnvString("CHAT_MODEL", openai.DefaultChatModel)),
		openai.WithSpeechModel(util.GetEnvString("SPEECH_MODEL", openai.DefaultSpeechModel)),
		openai.WithVoice(util.GetEnvString("SPEECH_VOICE", openai.DefaultVoice)),
		openai.WithTimeout(providerTimeout),
	}
	if baseURL := util.GetEnvString("OPENAI_BASE_URL", ""); baseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(baseURL))
	}
	provider, err := openai.New(os.Getenv("OPENAI_API_KEY"), providerOpts...)
	if err != nil {
		return nil, err
	}

	cache := phrasecache.New(
		phrasecache.WithCapacity(util.GetEnvInt("PHRASE_CACHE_SIZE", constants.PhraseCacheCap)),
		phrasecache.WithObserver(phrasecache.Observer{
			OnEvict: metrics.RecordEviction,
			OnReset: metrics.RecordReset,
		}),
	)

	speechMode := speech.NormalizeMode(util.GetEnvString("SPEECH_MODE", constants.SpeechModeDevice))
	util.LogInfo("Speech mode: %s", speechMode)

	return &models.App{
		Strategies: strategies,
		Cache:      cache,
		Phrases: phrase.New(provider, cache,
			phrase.WithMetrics(metrics),
			phrase.WithCallTimeout(providerTimeout)),
		Translator: translate.New(provider, util.GetEnvString("TARGET_LANGUAGE", translate.DefaultLanguage), providerTimeout, metrics),
		Speech:     speech.NewService(provider, providerTimeout, metrics),
		Metrics:    metrics,
		Hub:        live.NewHub(),
		GameConfig: game.Config{
			Strategy:      strategies.Strategies[prompts.StrategyPhrase],
			RoundDuration: util.GetEnvDuration("ROUND_DURATION", constants.DefaultRoundDuration),
			TimeoutReveal: util.GetEnvDuration("TIMEOUT_REVEAL", constants.DefaultTimeoutReveal),
			HintReveal:    util.GetEnvDuration("HINT_REVEAL", constants.DefaultHintReveal),
			CorrectReveal: util.GetEnvDuration("CORRECT_REVEAL", constants.DefaultCorrectReveal),
			SpeechMode:    speechMode,
		},
		GameSessions:   make(map[string]*models.GameSession),
		LimiterMap:     make(map[string]*models.RateLimiterEntry),
		IsProduction:   isProduction,
		StartTime:      time.Now(),
		CookieMaxAge:   util.GetEnvDuration("COOKIE_MAX_AGE", 2*time.Hour),
		StaticCacheAge: util.GetEnvDuration("STATIC_CACHE_AGE", 5*time.Minute),
		RateLimitRPS:   util.GetEnvInt("RATE_LIMIT_RPS", 5),
		RateLimitBurst: util.GetEnvInt("RATE_LIMIT_BURST", 10),
		RateLimiterTTL: util.GetEnvDuration("RATE_LIMITER_TTL", 1*time.Hour),
		SessionTimeout: util.GetEnvDuration("SESSION_TTL", 3*time.Hour),
	}, nil
}

func newRouter(app *models.App, isProduction bool) *gin.Engine {
	router := gin.Default()

	router.Use(requestIDMiddleware())
	router.Use(securityHeadersMiddleware())
	router.Use(app.Metrics.Middleware())

	router.Use(csrfMiddleware(app))
	router.Use(validateCSRFMiddleware())

	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression,
		ginGzip.WithExcludedExtensions([]string{".svg", ".ico", ".png", ".jpg", ".jpeg", ".gif", ".mp3"}),
		ginGzip.WithExcludedPaths([]string{constants.RouteGameWS, constants.RouteMetrics})))

	if err := router.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		util.LogWarn("Failed to set trusted proxies: %v", err)
	}

	router.Use(func(c *gin.Context) {
		applyCacheHeaders(app, c, isProduction)
	})

	var baseTplDir string
	if isProduction && util.DirExists("dist") {
		util.LogInfo("Serving assets from dist/ directory")
		baseTplDir = filepath.Join("dist", "templates")
		router.Static("/static", "./dist/static")
	} else {
		util.LogInfo("Serving development assets from source directories")
		baseTplDir = "templates"
		router.Static("/static", "./static")
	}

	tmpl, err := handlers.LoadTemplates(baseTplDir)
	if err != nil {
		util.LogFatal("Failed to parse templates: %v", err)
	}
	router.SetHTMLTemplate(tmpl)

	handlers.Register(router, app, rateLimitMiddleware(app))
	router.GET(constants.RouteMetrics, gin.WrapH(promhttp.Handler()))

	return router
}

func serve(ctx context.Context, router *gin.Engine) error {
	port := util.GetEnvString("PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.LogInfo("Server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	util.LogInfo("Shutdown signal received, shutting down server gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		util.LogWarn("HTTP server Shutdown: %v", err)
	}
	return nil
}

func applyCacheHeaders(app *models.App, c *gin.Context, production bool) {
	if production && strings.HasPrefix(c.Request.URL.Path, "/static/") {
		cachecontrol.New(cachecontrol.Config{
			Public: true,
			MaxAge: cachecontrol.Duration(app.StaticCacheAge),
		})(c)
		c.Header("Vary", "Accept-Encoding")
		return
	}
	cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	})(c)
}
