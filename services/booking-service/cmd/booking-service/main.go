package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/libs/grpcx"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/flow"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/jobs"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/otp"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/sms"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// healthService is the gRPC health name that health checks ask for; it tracks database readiness.
const healthService = "slotbook.booking"

func main() {
	cfg, err := loadConfig()
	logger := runtime.NewLogger(cfg.Service)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelCfg, err := otelx.ConfigFromEnv(cfg.Service)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
		otelShutdown = nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := storage.Migrate(ctx, pool); err != nil {
		logger.Error("schema migration failed", "err", err)
		os.Exit(1)
	}

	m := metrics.New("slotbook_booking")
	outboxRepo := outbox.NewRepository(pool)
	store := storage.NewStore(pool, outboxRepo)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers := kafkax.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers), Optional: true})
	}

	var sessions flow.SessionStore = flow.NewMemorySessionStore()
	publicLimit := httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, httpx.ClientIPAndPath).Middleware()
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		sessions = flow.NewRedisSessionStore(rdb, "slotbook:flow")
		publicLimit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "slotbook:rl", httpx.ClientIPAndPath).Middleware(logger, true)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		logger.Warn("REDIS_URL not set; flow sessions and rate limits are local to this process")
	}

	sender, err := sms.New(cfg.SMSProvider, cfg.SMSWebhookURL, cfg.SMSWebhookToken, logger)
	if err != nil {
		logger.Error("sms sender init failed", "err", err)
		os.Exit(1)
	}

	guard := booking.NewGuard(store, logger, booking.Config{
		DefaultBufferMinutes: cfg.DefaultBufferMinutes,
		WeeklyCancelCap:      cfg.WeeklyCancelCap,
		BlocklistTTL:         cfg.BlocklistTTL,
	}, booking.WithMetrics(m))
	engine := flow.NewEngine(flow.Deps{
		Guard:    guard,
		Catalog:  store,
		Sessions: sessions,
		Issuer:   otp.NewIssuer(otp.Config{TTL: cfg.OTPTTL, MaxAttempts: cfg.OTPMaxAttempts}),
		Sender:   sender,
		Logger:   logger,
		Metrics:  m,
	}, flow.Config{SessionTTL: cfg.SessionTTL})

	go outbox.NewPublisher(pool, outboxRepo, logger, m, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	}).Run(ctx)
	go jobs.NewSweeper(store, logger, m, jobs.SweeperConfig{Interval: cfg.SweepInterval}).Run(ctx)

	var jwks *auth.JWKSClient
	if cfg.JWKSURL != "" {
		jwks = auth.NewJWKSClient(cfg.JWKSURL, 5*time.Minute)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	routes{
		public:      handlers.NewPublicHandler(guard, store, logger),
		flow:        handlers.NewFlowHandler(engine, logger),
		admin:       handlers.NewAdminHandler(guard, store, logger),
		publicLimit: publicLimit,
		jwtSecret:   cfg.JWTSecret,
		jwks:        jwks,
		metrics:     m.Handler(),
	}.register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: cfg.CORSOrigins, MaxAge: 10 * time.Minute}),
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(15*time.Second),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpHandler, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer := grpcx.NewServer(logger)
	go watchHealth(ctx, healthServer, pool, logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	healthServer.Shutdown()
	_ = runtime.Shutdown(logger, 10*time.Second,
		runtime.Stopper{Name: "http", Stop: srv.Shutdown},
		runtime.Stopper{Name: "grpc", Stop: func(context.Context) error {
			grpcServer.GracefulStop()
			return nil
		}},
		runtime.Stopper{Name: "otel", Stop: otelShutdown},
	)
}

// watchHealth mirrors database reachability into the gRPC health service.
func watchHealth(ctx context.Context, hs *health.Server, pool *db.Pool, logger *slog.Logger) {
	check := db.ReadyCheck(pool)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		status := healthpb.HealthCheckResponse_SERVING
		if err := check(pingCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		cancel()
		if status != last {
			logger.Info("grpc health changed", "service", healthService, "status", status.String())
			hs.SetServingStatus(healthService, status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
