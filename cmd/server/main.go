package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stream-gateway/internal/gateway"
	"stream-gateway/internal/platform/config"
	"stream-gateway/internal/platform/cors"
	"stream-gateway/internal/platform/httpclient"
	"stream-gateway/internal/platform/logger"
	"stream-gateway/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	prefix := strings.TrimSuffix(config.GetEnv("ROUTE_PREFIX", ""), "/")
	tokenTTL := config.GetEnvDuration("TOKEN_TTL", gateway.DefaultTokenTTL)
	upstreamTimeout := config.GetEnvDuration("UPSTREAM_TIMEOUT", httpclient.DefaultTimeout)
	userAgent := config.GetEnv("UPSTREAM_USER_AGENT", gateway.DefaultUserAgent)

	log := logger.New(logLevel, logFormat)

	secret := os.Getenv("STREAM_SECRET")
	if secret == "" {
		log.Error("STREAM_SECRET is not set; refusing to start")
		os.Exit(1)
	}

	client := httpclient.New(upstreamTimeout)
	met := metrics.New()

	resolver, err := buildResolver(client, userAgent, log)
	if err != nil {
		log.Error("stream mapping", "error", err)
		os.Exit(1)
	}

	segmentHosts := httpclient.NewAllowList(config.GetEnvList("SEGMENT_ALLOWED_HOSTS"))
	origin := gateway.NewOrigin(client, gateway.OriginConfig{
		UserAgent:    userAgent,
		Referer:      config.GetEnv("UPSTREAM_REFERER", ""),
		SegmentHosts: segmentHosts,
	}, httpclient.NewHostLimiter(config.GetEnvFloat("UPSTREAM_RATE_LIMIT", 0), config.GetEnvInt("UPSTREAM_RATE_BURST", 10)), met)

	tokens := gateway.NewTokenService([]byte(secret), tokenTTL)
	rewriter := gateway.NewRewriter(gateway.TSClassifier{}, prefix+gateway.DefaultSegmentPath)
	svc := gateway.NewService(tokens, resolver, origin, rewriter, segmentHosts)
	h := gateway.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.RequestMiddleware(met))
	r.Use(cors.Middleware(config.GetEnvList("CORS_ALLOWED_ORIGINS")))
	r.Get("/metrics", met.Handler().ServeHTTP)
	r.Get("/healthz", h.Healthz)
	if prefix != "" {
		r.Route(prefix, h.Routes)
	} else {
		h.Routes(r)
	}

	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"route_prefix", prefix,
		"token_ttl", tokenTTL.String(),
		"upstream_timeout", upstreamTimeout.String(),
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

// buildResolver chains the configured stream mapping backends: the static
// map file first, then the match feed, then the URL template.
func buildResolver(client *http.Client, userAgent string, log *slog.Logger) (gateway.StreamResolver, error) {
	var chain gateway.ChainResolver

	if path := config.GetEnv("STREAM_MAP_FILE", ""); path != "" {
		static, err := gateway.LoadStaticResolver(path)
		if err != nil {
			return nil, err
		}
		log.Info("stream map loaded", "path", path, "streams", static.Len())
		chain = append(chain, static)
	}

	if urls := config.GetEnvList("MATCH_FEED_URLS"); len(urls) > 0 {
		ttl := config.GetEnvDuration("MATCH_FEED_TTL", gateway.DefaultFeedTTL)
		chain = append(chain, gateway.NewFeedResolver(client, urls, ttl, userAgent, log))
		log.Info("match feed enabled", "sources", len(urls), "ttl", ttl.String())
	}

	if tmpl := config.GetEnv("STREAM_URL_TEMPLATE", ""); tmpl != "" {
		tr, err := gateway.NewTemplateResolver(tmpl)
		if err != nil {
			return nil, err
		}
		chain = append(chain, tr)
	}

	if len(chain) == 0 {
		return nil, errors.New("no stream mapping configured: set STREAM_MAP_FILE, MATCH_FEED_URLS or STREAM_URL_TEMPLATE")
	}
	return chain, nil
}
