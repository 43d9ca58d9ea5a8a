package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dwani-ai/dwani-gateway/internal/auth"
	"github.com/dwani-ai/dwani-gateway/internal/config"
	"github.com/dwani-ai/dwani-gateway/internal/db"
	"github.com/dwani-ai/dwani-gateway/internal/gateway"
	"github.com/dwani-ai/dwani-gateway/internal/instrumentation"
	"github.com/dwani-ai/dwani-gateway/internal/middleware"
	"github.com/dwani-ai/dwani-gateway/internal/users"
	"github.com/dwani-ai/dwani-gateway/pkg"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config *config.Config
	dbPool *pgxpool.Pool

	redisClient *redis.Client
	usersRepo   *users.Repo
	authService *auth.Service

	gatewayClient *gateway.Client

	instr        *instrumentation.Instrumentation
	promRegistry *prometheus.Registry
}

type NewServerParams struct {
	Config               *config.Config
	TokenSigningSecret   string
	RedisPassword        string
	DefaultAdminPassword string
	VersionInfo          string
	TracingEnabled       bool
}

func NewServer(ctx context.Context, params NewServerParams) (*Server, error) {
	if params.TokenSigningSecret == "" {
		return nil, errors.New("token signing secret not set")
	}

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         params.Config.PostgresHost,
		DBPort:         params.Config.PostgresPort,
		DBName:         params.Config.PostgresDBName,
		TracingEnabled: params.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Warnf("failed to ping db: %s", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		pgxpoolprometheus.NewCollector(dbPool, map[string]string{"db_name": params.Config.PostgresDBName}),
	)
	instr := instrumentation.NewInstrumentationWithRegisterer("gateway", "main", promRegistry)
	instr.GaugeLifeSignal.Set(0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(params.Config.RedisHost, params.Config.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	usersRepo := users.NewRepo(dbPool)
	if err := usersRepo.CreateSchema(ctx); err != nil {
		return nil, fmt.Errorf("create users schema: %w", err)
	}

	if params.DefaultAdminPassword != "" {
		if err := users.SeedDefaultAdmin(
			ctx, usersRepo,
			params.Config.DefaultAdminUsername,
			params.DefaultAdminPassword,
		); err != nil {
			return nil, fmt.Errorf("seed default admin: %w", err)
		}
	} else {
		log.Warn("default admin password not set, skipping admin bootstrap")
	}

	if !params.Config.IsProduction() {
		if err := users.SeedTestUser(ctx, usersRepo); err != nil {
			return nil, fmt.Errorf("seed test user: %w", err)
		}
	}

	tokenService := auth.NewTokenService(
		params.TokenSigningSecret,
		time.Duration(params.Config.TokenExpirationMinutes)*time.Minute,
		time.Duration(params.Config.RefreshTokenExpirationDays)*24*time.Hour,
	)

	return &Server{
		versionInfo:   params.VersionInfo,
		config:        params.Config,
		dbPool:        dbPool,
		redisClient:   rdb,
		usersRepo:     usersRepo,
		authService:   auth.NewService(usersRepo, tokenService),
		gatewayClient: gateway.NewClient(params.Config.InferenceBaseURL, params.Config.PdfInferenceBaseURL, nil),
		instr:         instr,
		promRegistry:  promRegistry,
	}, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("gateway-router"))

	r.HandleFunc("/", s.handleRoot).Methods("GET").Name("root")
	r.HandleFunc("/v1/health", s.handleHealth).Methods("GET").Name("health")

	reqRateLimiter := redis_rate.NewLimiter(s.redisClient)
	authMiddleware := middleware.NewAuthMiddlewareHandler(s.authService, s.instr)

	authHandler := auth.NewHandler(s.authService, s.instr)
	authHandler.SetupRoutes(
		r,
		reqRateLimiter,
		authMiddleware.AdminAuthenticated(),
		s.config.LoginRateLimitAllowedPerMin,
	)

	gatewayHandler := gateway.NewHandler(s.gatewayClient, s.instr)
	gatewayRouter := r.PathPrefix("/v1").Subrouter()
	gatewayHandler.SetupRoutes(
		gatewayRouter,
		reqRateLimiter,
		authMiddleware.Authenticated(),
		s.config.ChatRateLimitPerMin,
		s.config.SpeechRateLimitPerMin,
	)

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	r.Use(middleware.PanicRecovery(s.instr))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.instr))
	r.Use(middleware.Cors())
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, fmt.Sprintf("dwani gateway, version: %s", s.versionInfo))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteJSONResponseOK(w, `{"status":"healthy"}`)
}

func (s *Server) Serve(_ context.Context, host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: 2 * gateway.UpstreamTimeout,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.instr.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.instr.GaugeLifeSignal.Set(0)

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown http server")
	}
	log.Warnln("server shut down")

	if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown metrics http server")
	}
	log.Warnln("metrics server shut down")
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.instr.GaugeRequests.Add(1)
	case http.StateClosed:
		s.instr.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
