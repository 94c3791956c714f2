// =============================================================================
// TaskFlow 主入口
// =============================================================================
// 工作流编排 CLI，加载图定义并驱动一次运行
//
// 使用方法:
//
//	taskflow run --graph pipeline.yaml                # 执行工作流
//	taskflow run --graph pipeline.yaml --responses r.yaml
//	taskflow validate --graph pipeline.yaml           # 校验图定义
//	taskflow history --config taskflow.yaml           # 查看运行历史
//	taskflow version                                  # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/engine"
	"github.com/BaSui01/taskflow/persistence"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// ▶️ run 命令
// =============================================================================

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	graphPath := fs.String("graph", "", "Path to graph definition (JSON or YAML)")
	responsesPath := fs.String("responses", "", "Path to scripted agent responses (YAML)")
	resumeID := fs.String("resume", "", "Run ID to resume from checkpoints")
	fs.Parse(args)

	if *graphPath == "" {
		fmt.Fprintln(os.Stderr, "run: --graph is required")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting TaskFlow",
		zap.String("version", Version),
		zap.String("graph", *graphPath),
	)

	graph := loadGraph(*graphPath)

	invoker, err := newScriptedInvoker(*responsesPath)
	if err != nil {
		logger.Fatal("Failed to load scripted responses", zap.Error(err))
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMaxSteps(cfg.Engine.MaxSteps),
		engine.WithWorkers(cfg.Engine.Workers),
	}
	if cfg.Engine.RateLimitRPS > 0 {
		opts = append(opts, engine.WithRateLimit(cfg.Engine.RateLimitRPS, cfg.Engine.RateLimitBurst))
	}
	if cfg.Engine.TokenBudget > 0 {
		opts = append(opts, engine.WithTokenBudget("cl100k_base", cfg.Engine.TokenBudget))
	}

	store, cleanup, err := openCheckpointStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open checkpoint store", zap.Error(err))
	}
	defer cleanup()
	opts = append(opts, engine.WithCheckpoints(store))
	if *resumeID != "" {
		opts = append(opts, engine.WithResume(*resumeID))
	}

	registry := prometheus.NewRegistry()
	opts = append(opts, engine.WithMetrics("taskflow", registry))
	stopMetrics := startMetricsServer(cfg.Server.MetricsPort, registry, logger)
	defer stopMetrics()

	session, err := engine.NewSession(graph, invoker, opts...)
	if err != nil {
		logger.Fatal("Failed to create session", zap.Error(err))
	}

	// 信号触发取消
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, err := session.Start(ctx)
	if err != nil {
		logger.Fatal("Run failed to start", zap.Error(err))
	}

	if cfg.Database.Enabled {
		if err := saveHistory(ctx, cfg.Database, summary); err != nil {
			logger.Warn("Failed to persist run history", zap.Error(err))
		}
	}

	printSummary(summary)
	if !summary.Completed() {
		os.Exit(1)
	}
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	graphPath := fs.String("graph", "", "Path to graph definition (JSON or YAML)")
	fs.Parse(args)

	if *graphPath == "" {
		fmt.Fprintln(os.Stderr, "validate: --graph is required")
		os.Exit(1)
	}

	graph := loadGraph(*graphPath)
	fmt.Printf("OK: graph %q, %d nodes, %d start nodes\n",
		graph.Name, graph.Len(), len(graph.StartNodes()))
}

// =============================================================================
// 📜 history 命令
// =============================================================================

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	graphName := fs.String("graph-name", "", "Filter by graph name")
	limit := fs.Int("limit", 20, "Maximum rows to list")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if !cfg.Database.Enabled {
		fmt.Fprintln(os.Stderr, "history: database is not enabled in config")
		os.Exit(1)
	}

	store, err := openHistoryStore(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(1)
	}

	runs, err := store.ListRuns(context.Background(), *graphName, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(1)
	}

	for _, run := range runs {
		fmt.Printf("%s  %-24s  %-22s  steps=%-4d  %s\n",
			run.FinishedAt.Format("2006-01-02 15:04:05"),
			run.GraphName, run.Reason, run.Steps, run.RunID)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("TaskFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`TaskFlow - Workflow Orchestration Engine

Usage:
  taskflow <command> [options]

Commands:
  run       Execute a workflow graph
  validate  Validate a graph definition without running it
  history   List persisted run history
  version   Show version information
  help      Show this help message

Options for 'run':
  --graph <path>      Graph definition file (JSON or YAML)
  --config <path>     Configuration file (YAML)
  --responses <path>  Scripted agent responses (YAML)
  --resume <run-id>   Resume from the checkpoints of a previous run

Examples:
  taskflow run --graph pipeline.yaml
  taskflow run --graph pipeline.yaml --config /etc/taskflow/taskflow.yaml
  taskflow validate --graph pipeline.yaml
  taskflow history --config taskflow.yaml --graph-name content-pipeline`)
}

// =============================================================================
// 🔧 初始化辅助
// =============================================================================

func loadConfig(path string) *config.Config {
	loader := config.NewLoader().WithValidator(config.Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func loadGraph(path string) *engine.Graph {
	def, err := engine.LoadDefinitionFromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load graph: %v\n", err)
		os.Exit(1)
	}
	graph, err := def.ToGraph()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid graph: %v\n", err)
		os.Exit(1)
	}
	return graph
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var buildOpts []zap.Option
	if cfg.EnableCaller {
		buildOpts = append(buildOpts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		buildOpts = append(buildOpts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(buildOpts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

func openCheckpointStore(cfg *config.Config, logger *zap.Logger) (engine.CheckpointStore, func(), error) {
	switch cfg.Checkpoint.Backend {
	case "memory":
		return persistence.NewMemoryCheckpointStore(), func() {}, nil
	case "file":
		store, err := persistence.NewFileCheckpointStore(cfg.Checkpoint.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "redis":
		store, err := persistence.NewRedisCheckpointStore(persistence.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Redis checkpoint store connected", zap.String("addr", cfg.Redis.Addr))
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func openHistoryStore(dbCfg config.DatabaseConfig) (*persistence.GormHistoryStore, error) {
	if dbCfg.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite)", dbCfg.Driver)
	}
	db, err := gorm.Open(sqlite.Open(dbCfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return persistence.NewGormHistoryStore(db)
}

func saveHistory(ctx context.Context, dbCfg config.DatabaseConfig, summary *engine.RunSummary) error {
	store, err := openHistoryStore(dbCfg)
	if err != nil {
		return err
	}
	return store.SaveRun(ctx, summary)
}

func startMetricsServer(port int, registry *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	return func() { srv.Close() }
}

func printSummary(summary *engine.RunSummary) {
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Printf("run %s finished: %s (%d steps)\n", summary.RunID, summary.Reason, summary.Steps)
		return
	}
	fmt.Println(string(out))
}
