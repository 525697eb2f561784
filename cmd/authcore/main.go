package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/coverwise/authcore/internal/apikey"
	"github.com/coverwise/authcore/internal/bootstrap"
	"github.com/coverwise/authcore/internal/cache"
	"github.com/coverwise/authcore/internal/config"
	httpx "github.com/coverwise/authcore/internal/http"
	jwtx "github.com/coverwise/authcore/internal/jwt"
	"github.com/coverwise/authcore/internal/metrics"
	"github.com/coverwise/authcore/internal/mtls"
	"github.com/coverwise/authcore/internal/oauth"
	"github.com/coverwise/authcore/internal/observability/logger"
	"github.com/coverwise/authcore/internal/rate"
	"github.com/coverwise/authcore/internal/scope"
	"github.com/coverwise/authcore/internal/store/core"
	memstore "github.com/coverwise/authcore/internal/store/memory"
	pgstore "github.com/coverwise/authcore/internal/store/pg"
)

func main() {
	// .env opcional; las vars del sistema siguen valiendo
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path al YAML de configuración")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, ServiceName: "authcore"})
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var st core.Store
	switch cfg.Storage.Driver {
	case "postgres":
		pgs, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			ConnMaxLifetime: config.Duration(cfg.Storage.Postgres.ConnMaxLifetime),
		})
		if err != nil {
			lg.Fatal("postgres connect failed", logger.Err(err))
		}
		if err := pgs.Migrate(ctx); err != nil {
			lg.Fatal("migrations failed", logger.Err(err))
		}
		st = pgs
	default:
		lg.Warn("using in-memory store, data does not survive restarts")
		st = memstore.New()
	}
	defer st.Close()

	// Cache
	cc, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Driver,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		lg.Fatal("cache init failed", logger.Err(err))
	}
	defer func() { _ = cc.Close() }()

	// Clave de firma: seed de config si hay, si no efímera (dev)
	var key *jwtx.SigningKey
	if cfg.JWT.SigningSeed != "" {
		key, err = jwtx.KeyFromSeed(cfg.JWT.KID, cfg.JWT.SigningSeed)
	} else {
		lg.Warn("no signing seed configured, tokens will not survive restarts")
		key, err = jwtx.GenerateKey()
	}
	if err != nil {
		lg.Fatal("signing key init failed", logger.Err(err))
	}

	// Scope registry: tabla de archivo o la versionada en código
	var registry *scope.Registry
	if cfg.OAuth.ScopeTablePath != "" {
		registry, err = scope.LoadFile(cfg.OAuth.ScopeTablePath)
		if err != nil {
			lg.Fatal("scope table load failed", logger.Err(err))
		}
	} else {
		registry = scope.MustDefaultRegistry()
	}

	// Rate limiter: redis si el cache es redis, memoria si no
	var limiter rate.Limiter
	window := config.Duration(cfg.OAuth.RateWindow)
	if rc, ok := cc.(interface{ Underlying() *redis.Client }); ok {
		limiter = rate.NewRedisLimiter(rc.Underlying(), cfg.Cache.Prefix+"rl:", window)
	} else {
		limiter = rate.NewMemoryLimiter(window)
	}

	certMgr := mtls.NewManager(mtls.Deps{
		Store:    st,
		CacheTTL: config.Duration(cfg.MTLS.CacheTTL),
	})

	oauthSrv := oauth.NewServer(oauth.Deps{
		Store:          st,
		Cache:          cc,
		Issuer:         jwtx.NewIssuer(cfg.JWT.Issuer, key),
		Scopes:         registry,
		Limiter:        limiter,
		GrantRateLimit: cfg.OAuth.GrantRateMax,
		Certs:          certMgr,
		CodeTTL:        config.Duration(cfg.OAuth.CodeTTL),
		RefreshTTL:     config.Duration(cfg.OAuth.RefreshTTL),
	})

	keyMgr := apikey.NewManager(apikey.Deps{
		Store:    st,
		Scopes:   registry,
		Limiter:  limiter,
		CacheTTL: config.Duration(cfg.APIKeys.CacheTTL),
	})

	// Client administrativo inicial si la base está vacía
	if err := bootstrap.CheckAndCreateAdminClient(ctx, bootstrap.AdminConfig{
		OAuth:  oauthSrv,
		Store:  st,
		Name:   cfg.Bootstrap.AdminClientName,
		Scopes: cfg.Bootstrap.AdminScopes,
	}); err != nil {
		lg.Warn("admin bootstrap failed", logger.Err(err))
	}

	routerDeps := httpx.RouterDeps{
		OAuth:  oauthSrv,
		Keys:   keyMgr,
		Certs:  certMgr,
		Scopes: registry,
		Store:  st,
	}
	if cfg.Metrics.Enabled {
		mh, err := metrics.Register(nil)
		if err != nil {
			lg.Fatal("metrics init failed", logger.Err(err))
		}
		routerDeps.MetricsHandler = mh
	}

	srv := httpx.NewServer(httpx.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
	}, httpx.NewRouter(routerDeps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		lg.Error("server exited with error", logger.Err(err))
		os.Exit(1)
	}
	lg.Info("shutdown complete")
}
