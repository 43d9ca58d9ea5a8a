package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/dwani-ai/dwani-gateway/internal"
	"github.com/dwani-ai/dwani-gateway/internal/config"
	"github.com/dwani-ai/dwani-gateway/internal/logging"
	"github.com/dwani-ai/dwani-gateway/pkg"

	log "github.com/sirupsen/logrus"
)

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    false,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: "gateway-service",
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)

	tokenSigningSecret := os.Getenv("DWANI_API_KEY_SECRET")
	if tokenSigningSecret == "" {
		log.Fatalf("token signing secret not set, use DWANI_API_KEY_SECRET env var to set it")
	}

	defaultAdminPassword := os.Getenv("DWANI_DEFAULT_ADMIN_PASSWORD")
	if defaultAdminPassword == "" {
		log.Warnln("default admin password not set, use DWANI_DEFAULT_ADMIN_PASSWORD; admin bootstrap will be skipped")
	}

	redisPassword := os.Getenv("DWANI_REDIS_PASS")
	if redisPassword == "" {
		log.Errorf("redis password not set. use DWANI_REDIS_PASS")
	}

	if otelServiceName := os.Getenv("OTEL_SERVICE_NAME"); otelServiceName == "" {
		log.Warnln("OTEL_SERVICE_NAME env var not set")
	}
	tracingEnabled := os.Getenv("DWANI_TRACING_ENABLED") == "true"
	if !tracingEnabled {
		log.Debugln("tracing disabled")
	}

	versionInfo, err := tryGetLastCommitHash()
	if err != nil {
		log.Tracef("failed to get last commit hash / version info: %s", err)
	} else {
		log.Tracef("running version: %s", versionInfo)
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:               cfg,
			TokenSigningSecret:   tokenSigningSecret,
			RedisPassword:        redisPassword,
			DefaultAdminPassword: defaultAdminPassword,
			VersionInfo:          versionInfo,
			TracingEnabled:       tracingEnabled,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	server.Serve(ctx, cfg.Host, cfg.Port)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, killing everything ...", receivedSig)
	cancel()

	server.GracefulShutdown()
}

// tryGetLastCommitHash will try to get the last commit hash
// assumes that the built main executable is in project root
func tryGetLastCommitHash() (string, error) {
	cmd := exec.Command("/usr/bin/git", "rev-parse", "HEAD")
	stdout, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return pkg.BytesToString(stdout), nil
}
