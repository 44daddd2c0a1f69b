package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamgate/internal/gateway"
	"streamgate/internal/platform/config"
	"streamgate/internal/platform/logger"
	"streamgate/internal/platform/metrics"
	"streamgate/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	secret := config.GetEnv("STREAM_SECRET", "")
	upstreamOrigin := config.GetEnv("UPSTREAM_ORIGIN", "")
	streamURL := config.GetEnv("STREAM_WSS_URL", "")
	defaultAlias := config.GetEnv("DEFAULT_ALIAS", "live")
	tokenTTL := config.GetEnvDuration("TOKEN_TTL", token.DefaultTTL)
	upstreamTimeout := config.GetEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	redisAddr := config.GetEnv("REDIS_ADDR", "")
	tokenRateLimit := config.GetEnvInt("TOKEN_RATE_LIMIT", 30)

	log := logger.New(logLevel, logFormat)

	if secret == "" {
		log.Error("STREAM_SECRET is required")
		os.Exit(1)
	}
	if upstreamOrigin == "" {
		log.Error("UPSTREAM_ORIGIN is required")
		os.Exit(1)
	}

	up, err := gateway.NewUpstream(upstreamOrigin, upstreamTimeout)
	if err != nil {
		log.Error("invalid upstream origin", "error", err)
		os.Exit(1)
	}

	var guard token.ReplayGuard
	if redisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisGuard, err := token.NewRedisGuard(ctx, redisAddr)
		cancel()
		if err != nil {
			log.Error("redis replay guard unavailable", "addr", redisAddr, "error", err)
			os.Exit(1)
		}
		defer redisGuard.Close()
		guard = redisGuard
		log.Info("replay guard backed by redis", "addr", redisAddr)
	} else {
		memGuard := token.NewMemoryGuard()
		defer memGuard.Close()
		guard = memGuard
	}

	met := metrics.New()
	h := gateway.NewHandler(gateway.HandlerConfig{
		Issuer:       token.NewIssuer([]byte(secret)),
		Validator:    token.NewValidator([]byte(secret), tokenTTL, guard),
		Upstream:     up,
		Log:          log,
		Metrics:      met,
		StreamURL:    streamURL,
		TokenTTL:     tokenTTL,
		DefaultAlias: defaultAlias,
	})

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetReplayGuardEntries(guard.Len()) }).ServeHTTP(w, req)
	})
	r.Route("/stream", func(r chi.Router) {
		r.With(httprate.LimitByIP(tokenRateLimit, time.Minute)).Get("/token", h.IssueToken)
		r.Get("/playlist.m3u8", h.GetPlaylist)
		r.Get("/segment", h.GetSegment)
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"default_alias", defaultAlias,
		"token_ttl", tokenTTL.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
