package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/go-chi/traceid"
	"github.com/goware/cachestore/memlru"
	"github.com/rs/zerolog"

	identitybroker "github.com/walletgate/identity-broker"
	"github.com/walletgate/identity-broker/config"
	"github.com/walletgate/identity-broker/data"
	"github.com/walletgate/identity-broker/o11y"
	"github.com/walletgate/identity-broker/oidc"
)

type RPC struct {
	Config   *config.Config
	Log      zerolog.Logger
	Server   *http.Server
	Store    data.Store
	Provider *oidc.Provider

	startTime time.Time
	running   int32
}

func New(cfg *config.Config) (*RPC, error) {
	httpServer := &http.Server{
		ReadTimeout:       45 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       45 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log := httplog.NewLogger("identity-broker", httplog.Options{
		LogLevel: zerolog.LevelDebugValue,
	})

	var store data.Store
	if cfg.Redis.URL != "" {
		redisStore, err := data.NewRedisStore(context.Background(), cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("rpc: redis store: %w", err)
		}
		store = o11y.NewTracedStore("redis", redisStore)
	} else {
		// Local mode runs without redis; sessions do not survive restarts.
		store = o11y.NewTracedStore("memory", data.NewMemoryStore())
	}

	provider, err := oidc.New(cfg, store, memlru.Backend(1024), log)
	if err != nil {
		return nil, fmt.Errorf("rpc: oidc provider: %w", err)
	}

	s := &RPC{
		Config:    cfg,
		Log:       log,
		Server:    httpServer,
		Store:     store,
		Provider:  provider,
		startTime: time.Now(),
	}
	return s, nil
}

func (s *RPC) Run(ctx context.Context, l net.Listener) error {
	if s.IsRunning() {
		return fmt.Errorf("rpc: already running")
	}

	s.Log.Info().
		Str("op", "run").
		Str("ver", identitybroker.VERSION).
		Msgf("-> rpc: started")

	atomic.StoreInt32(&s.running, 1)
	defer atomic.StoreInt32(&s.running, 0)

	s.Server.Handler = s.Handler()

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	err := s.Server.Serve(l)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *RPC) Stop(timeoutCtx context.Context) {
	if !s.IsRunning() || s.IsStopping() {
		return
	}
	atomic.StoreInt32(&s.running, 2)

	s.Log.Info().Str("op", "stop").Msg("-> rpc: stopping..")
	s.Server.Shutdown(timeoutCtx)
	s.Log.Info().Str("op", "stop").Msg("-> rpc: stopped.")
}

func (s *RPC) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

func (s *RPC) IsStopping() bool {
	return atomic.LoadInt32(&s.running) == 2
}

func (s *RPC) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// Propagate TraceId
	r.Use(traceid.Middleware)

	// HTTP request logger
	r.Use(httplog.RequestLogger(s.Log, []string{"/", "/ping", "/status", "/favicon.ico", "/metrics"}))

	// Timeout any request after 28 seconds as Cloudflare has a 30 second limit anyways.
	r.Use(middleware.Timeout(28 * time.Second))

	// Observability middleware
	r.Use(o11y.Middleware())

	// The challenge page lives on the frontend origin and POSTs back
	// cross-site with the interaction cookie.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{frontendOrigin(s.Config.OIDC.FrontendURL)},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Healthcheck
	r.Use(middleware.PageRoute("/health", http.HandlerFunc(s.healthHandler)))
	r.Use(middleware.PageRoute("/status", http.HandlerFunc(s.statusHandler)))

	r.Handle("/metrics", o11y.MetricsHandler())

	r.Route("/oidc", func(r chi.Router) {
		r.Post("/wallet-callback", s.walletCallbackHandler)
		r.Mount("/", s.Provider.Handler())
	})

	return r
}

func frontendOrigin(frontendURL string) string {
	u, err := url.Parse(frontendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return frontendURL
	}
	return u.Scheme + "://" + u.Host
}

func (s *RPC) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"startTime": s.startTime,
		"uptime":    uint64(time.Now().UTC().Sub(s.startTime).Seconds()),
		"ver":       identitybroker.VERSION,
		"mode":      s.Config.Mode.String(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}

func (s *RPC) healthHandler(w http.ResponseWriter, r *http.Request) {
	// A read against the session store covers the backend connection.
	if _, _, err := s.Store.Find(r.Context(), data.KindInteraction, "healthcheck"); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
