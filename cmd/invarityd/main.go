// Package main is the entry point for the Invarity Trust Authorizer
// server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"invarity/internal/config"
	"invarity/internal/gate"
	"invarity/internal/httpapi"
	"invarity/internal/mcpapi"
	"invarity/internal/orchestrator"
	"invarity/internal/policy"
	"invarity/internal/proofchain"
	"invarity/internal/ratelimit"
	"invarity/internal/registry"
	"invarity/internal/repo"
	"invarity/internal/repo/dynamostore"
	"invarity/internal/repo/pgstore"
	"invarity/internal/trust"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// backends bundles every repository and event store the orchestrator
// needs, regardless of which storage backend produced them.
type backends struct {
	agents    repo.AgentRepo
	intents   repo.IntentRepo
	decisions repo.DecisionRepo
	profiles  trust.ProfileRepo
	outcomes  trust.OutcomeRepo
	events    proofchain.Store
	policies  policy.Store
	closers   []func()
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting invarityd", zap.String("version", version), zap.Int("port", cfg.Port), zap.String("storage_backend", cfg.StorageBackend))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build backends: %w", err)
	}
	defer func() {
		for _, closer := range b.closers {
			closer()
		}
	}()

	if cfg.PolicyBundlesDir != "" {
		loaded, err := policy.LoadBundlesFromDir(ctx, cfg.PolicyBundlesDir, b.policies)
		if err != nil {
			return fmt.Errorf("load policy bundles from %s: %w", cfg.PolicyBundlesDir, err)
		}
		logger.Info("loaded policy bundles from disk", zap.String("dir", cfg.PolicyBundlesDir), zap.Int("count", loaded))
	}

	trustEngine := trust.New(b.profiles, b.events, logger)
	if cfg.TrustGainRate > 0 {
		trustEngine.GainRate = cfg.TrustGainRate
	}
	if cfg.TrustLossRate > 0 {
		trustEngine.LossRate = cfg.TrustLossRate
	}

	policyEvaluator := policy.NewEvaluator(policy.NewCachedStore(b.policies, time.Minute))
	preActionGate := gate.New()
	orch := orchestrator.New(b.agents, b.intents, b.decisions, trustEngine, preActionGate, policyEvaluator, b.events, logger)

	routerCfg := httpapi.RouterConfig{
		Logger:       logger,
		Orchestrator: orch,
		Trust:        trustEngine,
		Events:       b.events,
		Outcomes:     b.outcomes,
		Actions:      registry.NewInMemoryStoreWithDefaults(),
	}
	if cfg.EnableMCP {
		mcpSrv := mcpapi.New(orch, trustEngine, logger, version)
		routerCfg.MCPHandler = mcpserver.NewStreamableHTTPServer(mcpSrv.MCPServer())
		logger.Info("mcp transport enabled", zap.String("path", "/mcp"))
	}
	if cfg.RedisAddr != "" {
		limiter := ratelimit.New(cfg.RedisAddr, cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
		b.closers = append(b.closers, func() { limiter.Close() })
		routerCfg.Limiter = limiter
		logger.Info("rate limiting enabled", zap.String("redis_addr", cfg.RedisAddr), zap.Int("rps", cfg.RateLimitRPS), zap.Int("burst", cfg.RateLimitBurst))
	}
	router := httpapi.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sweepDone := make(chan struct{})
	go runOutcomeSweepLoop(ctx, trustEngine, b.outcomes, cfg, logger, sweepDone)

	select {
	case err := <-serverErr:
		cancel()
		<-sweepDone
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	<-sweepDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// runOutcomeSweepLoop periodically closes due temporal outcome windows so
// withheld positive trust impacts get realized without a caller polling
// for them. Stops and closes done when ctx is cancelled.
func runOutcomeSweepLoop(ctx context.Context, engine *trust.Engine, outcomes trust.OutcomeRepo, cfg *config.Config, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(cfg.OutcomeSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.SweepDueOutcomes(ctx, outcomes, cfg.OutcomeSweepConcurrency); err != nil {
				logger.Warn("outcome sweep failed", zap.Error(err))
			}
		}
	}
}

func buildBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	switch cfg.StorageBackend {
	case "postgres":
		return buildPostgresBackends(ctx, cfg, logger)
	case "dynamodb":
		return buildDynamoBackends(ctx, cfg, logger)
	default:
		return buildMemoryBackends(), nil
	}
}

func buildMemoryBackends() *backends {
	return &backends{
		agents:    repo.NewInMemoryAgentRepo(),
		intents:   repo.NewInMemoryIntentRepo(),
		decisions: repo.NewInMemoryDecisionRepo(),
		profiles:  trust.NewInMemoryProfileRepo(),
		outcomes:  trust.NewInMemoryOutcomeRepo(),
		events:    proofchain.NewInMemoryStore(),
		policies:  policy.NewInMemoryStoreWithDefaults(),
	}
}

func buildPostgresBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	pool, err := pgstore.Open(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	events := pgstore.NewEventStore(pool)
	b := &backends{
		agents:    pgstore.NewAgentRepo(pool),
		intents:   pgstore.NewIntentRepo(pool),
		decisions: pgstore.NewDecisionRepo(pool),
		profiles:  pgstore.NewProfileRepo(pool),
		outcomes:  pgstore.NewOutcomeRepo(pool),
		events:    events,
		closers:   []func(){pool.Close},
	}

	if cfg.PolicyDDBTable != "" && cfg.PolicyS3Bucket != "" {
		policyStore, err := dynamoPolicyStore(ctx, cfg)
		if err != nil {
			pool.Close()
			return nil, err
		}
		b.policies = policyStore
	} else {
		b.policies = policy.NewInMemoryStoreWithDefaults()
	}

	return b, nil
}

func buildDynamoBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	policyStore, err := dynamoPolicyStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := buildMemoryBackends()
	b.policies = policyStore
	return b, nil
}

func dynamoPolicyStore(ctx context.Context, cfg *config.Config) (*dynamostore.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	ddb := dynamodb.NewFromConfig(awsCfg)
	s3c := s3.NewFromConfig(awsCfg)
	return dynamostore.New(ddb, s3c, cfg.PolicyDDBTable, cfg.PolicyS3Bucket), nil
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return cfg.Build()
}
