// Command portal-auth starts the portal authentication API.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/portal-auth/internal/cache"
	"github.com/and161185/portal-auth/internal/config"
	"github.com/and161185/portal-auth/internal/directory"
	"github.com/and161185/portal-auth/internal/identity"
	"github.com/and161185/portal-auth/internal/limiter"
	"github.com/and161185/portal-auth/internal/logger"
	"github.com/and161185/portal-auth/internal/metrics"
	"github.com/and161185/portal-auth/internal/migrate"
	"github.com/and161185/portal-auth/internal/repository/cachestore"
	"github.com/and161185/portal-auth/internal/repository/postgres"
	healthserver "github.com/and161185/portal-auth/internal/server/health"
	httpserver "github.com/and161185/portal-auth/internal/server/http"
	"github.com/and161185/portal-auth/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, wires dependencies and serves HTTP plus gRPC health.
func main() {
	cfgPath := flag.String("config", "", "config file (yaml)")
	dev := flag.Bool("dev", false, "enable gRPC reflection on the health listener")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("load config", zap.Error(err))
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.App.Addr),
	)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Migrate {
		if err := migrate.Up(ctx, cfg.Database.DSN, log); err != nil {
			log.Fatal("migrate up", zap.Error(err))
		}
	}

	db, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	store := cache.NewManager(cache.Config{
		Driver: cfg.Cache.Driver,
		Prefix: cfg.Cache.Prefix,
		Redis: cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
			Timeout:  cfg.Redis.Timeout,
		},
	},
		cache.WithLogger(log.Named("cache")),
		cache.WithMetrics(met),
		cache.WithReconnectInterval(cfg.Cache.ReconnectInterval),
	)
	defer store.Close(context.Background())
	log.Info("cache ready", zap.String("driver", store.DriverName(ctx)))

	dir := newDirectory(ctx, cfg, store, log)

	auth := service.NewAuthService(
		postgres.NewUserRepo(db),
		cachestore.NewInvalidTokenRepo(store, log.Named("invalid_tokens")),
		dir,
		service.WithSignKey([]byte(cfg.JWT.Secret)),
		service.WithHost(cfg.App.Host),
		service.WithAccessTTL(cfg.JWT.AccessTTL),
		service.WithUserGroupID(cfg.App.UserGroupID),
		service.WithLogger(log.Named("auth")),
		service.WithMetrics(met),
	)

	lim := limiter.NewMemory(cfg.Rate.PerSecond, cfg.Rate.Burst)

	opts := []httpserver.Option{
		httpserver.WithLogger(log.Named("http")),
		httpserver.WithMetrics(met),
		httpserver.WithCache(store),
		httpserver.WithLimiter(lim),
		httpserver.WithCORSOrigins(cfg.App.CORSOrigins...),
		httpserver.WithTrustedProxies(cfg.App.TrustedProxies...),
	}
	if cfg.Google.Auth.ClientID != "" {
		opts = append(opts, httpserver.WithGoogle(identity.NewGoogleVerifier(identity.GoogleConfig{
			ClientID:     cfg.Google.Auth.ClientID,
			ClientSecret: cfg.Google.Auth.ClientSecret,
			RedirectPath: cfg.Google.Auth.RedirectPath,
		})))
	}
	if cfg.SSO.Enabled() {
		sp, err := identity.NewSAMLProvider(identity.SAMLConfig{
			EntryPoint:  cfg.SSO.EntryPoint,
			IDPEntityID: cfg.SSO.IDPEntityID,
			Issuer:      cfg.SSO.Issuer,
			CallbackURL: cfg.SSO.CallbackURL,
			Cert:        cfg.SSO.Cert,
			SuccessPath: cfg.SSO.SuccessRedirect,
			FailurePath: cfg.SSO.FailureRedirect,
		})
		if err != nil {
			log.Fatal("saml provider", zap.Error(err))
		}
		opts = append(opts, httpserver.WithSAML(sp))
	}

	gin.SetMode(cfg.App.Mode)
	api := &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           httpserver.New(auth, opts...).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health with one service per dependency
	hs := healthserver.New(map[string]healthserver.Probe{
		"cache":    store.Ping,
		"postgres": db.Ping,
	}, log.Named("health"))
	gs := grpc.NewServer()
	hs.Register(gs)
	if *dev {
		reflection.Register(gs)
	}
	lis, err := net.Listen("tcp", cfg.Health.Addr)
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.App.Addr))
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("health listening", zap.String("addr", cfg.Health.Addr))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		hs.Run(gctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		lim.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(api, gs, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// newDirectory returns the photo-cached Admin SDK directory. Without a key
// file every lookup fails closed.
func newDirectory(ctx context.Context, cfg *config.Config, store cache.Cache, log *zap.Logger) directory.Directory {
	if cfg.Google.KeyPath == "" {
		log.Warn("google.key_path is empty; membership checks will fail")
		return directory.Closed{}
	}
	svc, err := directory.NewService(ctx, cfg.Google.KeyPath, cfg.Google.AdminSubject)
	if err != nil {
		log.Fatal("directory service", zap.Error(err))
	}
	g := directory.NewGoogle(svc, log.Named("directory"))
	return directory.NewCached(g, store, cfg.Google.PhotoTTL, log.Named("directory"))
}

// shutdown stops both listeners, forcing the gRPC side after 5s.
func shutdown(api *http.Server, gs *grpc.Server, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		gs.Stop()
	}
}
