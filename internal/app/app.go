package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsrec/internal/article"
	"github.com/hitoshi/newsrec/internal/config"
	"github.com/hitoshi/newsrec/internal/database"
	"github.com/hitoshi/newsrec/internal/handler"
	"github.com/hitoshi/newsrec/internal/interaction"
	"github.com/hitoshi/newsrec/internal/logger"
	"github.com/hitoshi/newsrec/internal/metrics"
	"github.com/hitoshi/newsrec/internal/model"
	"github.com/hitoshi/newsrec/internal/recommend"
	"github.com/hitoshi/newsrec/internal/repository"
	"github.com/hitoshi/newsrec/internal/security"
	"github.com/hitoshi/newsrec/internal/vectorizer"
	"github.com/hitoshi/newsrec/internal/worker/cleanup"
	"github.com/hitoshi/newsrec/internal/worker/vectorize"
)

// cleanupInterval はインタラクションのクリーンアップを実行する間隔。
const cleanupInterval = 24 * time.Hour

// IO はコマンドの入出力先をまとめる。
type IO struct {
	In  io.Reader // import-articles の入力
	Out io.Writer // 推薦結果などのコマンド出力
	Log io.Writer // JSON構造化ログの出力先
}

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(stdio IO, args []string) error {
	cmd := ParseCommand(args)
	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(stdio.Log)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Debug("starting application",
		slog.String("command", string(cmd)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch cmd {
	case CommandMigrate:
		margs, err := parseMigrateArgs(rest)
		if err != nil {
			return err
		}
		return runMigrate(stdio.Out, cfg, margs)
	case CommandWorker:
		return runWorker(cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	c := newComponents(cfg, db, metrics.NopCollector{}, slog.Default())

	switch cmd {
	case CommandRecommend:
		q, err := parseQueryArgs(string(cmd), rest, cfg.RecommendationCount, true)
		if err != nil {
			return err
		}
		articles, err := c.engine.RecommendForUser(ctx, q.id, q.k)
		if err != nil {
			return err
		}
		return writeArticles(stdio.Out, "", articles)
	case CommandRelated:
		q, err := parseQueryArgs(string(cmd), rest, cfg.RecommendationCount, true)
		if err != nil {
			return err
		}
		return runRelated(ctx, stdio.Out, c, q)
	case CommandHome:
		q, err := parseQueryArgs(string(cmd), rest, cfg.HomeArticleCount, false)
		if err != nil {
			return err
		}
		home, err := c.engine.RecommendForHome(ctx, q.id, q.k)
		if err != nil {
			return err
		}
		return writeArticles(stdio.Out, home.Source, home.Articles)
	case CommandRecord:
		in, err := parseRecordArgs(rest)
		if err != nil {
			return err
		}
		event, err := c.recorder.Record(ctx, in)
		if err != nil {
			return err
		}
		return writeEvent(stdio.Out, event)
	case CommandImportArticles:
		stats, err := importArticles(ctx, stdio.In, stdio.Out, c.articleSvc, slog.Default())
		if err != nil {
			return err
		}
		slog.Info("記事の取り込みが完了しました",
			slog.Int("saved", stats.Saved),
			slog.Int("skipped", stats.Skipped),
		)
		return nil
	}

	return fmt.Errorf("unsupported command: %s", cmd)
}

// components はサブコマンド間で共有するサービス群。
type components struct {
	articles     *repository.PostgresArticleRepo
	interactions *repository.PostgresInteractionRepo
	vectorizer   *vectorizer.Client
	articleSvc   *article.Service
	engine       *recommend.Engine
	recorder     *interaction.Recorder
}

// newComponents はDB接続とConfigから全依存関係をワイヤリングする。
func newComponents(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector, log *slog.Logger) *components {
	// 1. リポジトリの初期化
	articleRepo := repository.NewPostgresArticleRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	interactionRepo := repository.NewPostgresInteractionRepo(db)

	// 2. ベクトル生成サービスのクライアント（閾値0以下はクライアント側のデフォルト）
	var threshold uint32
	if cfg.VectorizerFailureThreshold > 0 {
		threshold = uint32(cfg.VectorizerFailureThreshold)
	}
	vectorClient := vectorizer.NewClient(
		&http.Client{Timeout: cfg.VectorizerTimeout},
		vectorizer.Config{
			Endpoint:         cfg.VectorizerURL,
			Dimension:        cfg.VectorDimension,
			RatePerSec:       cfg.VectorizerRatePerSec,
			Burst:            cfg.VectorizerBurst,
			FailureThreshold: threshold,
			OpenTimeout:      cfg.VectorizerOpenTimeout,
		},
		collector, log,
	)

	// 3. ドメインサービスの初期化
	articleSvc := article.NewService(articleRepo, security.NewTextSanitizer(), vectorClient, log)
	engine := recommend.NewEngine(
		recommend.NewVectorStore(articleRepo), profileRepo, collector, log,
		recommend.EngineConfig{ActiveWindow: cfg.ActiveWindow},
	)
	recorderCfg := interaction.DefaultRecorderConfig()
	recorderCfg.MaxAttempts = cfg.RecordMaxAttempts
	recorder := interaction.NewRecorder(interactionRepo, recommend.Aggregator{}, collector, log, recorderCfg)

	return &components{
		articles:     articleRepo,
		interactions: interactionRepo,
		vectorizer:   vectorClient,
		articleSvc:   articleSvc,
		engine:       engine,
		recorder:     recorder,
	}
}

// runRelated は記事の関連記事を出力する。
func runRelated(ctx context.Context, out io.Writer, c *components, q queryArgs) error {
	source, err := c.articles.FindByID(ctx, q.id)
	if err != nil {
		return fmt.Errorf("failed to load article: %w", err)
	}
	if source == nil {
		return model.NewArticleNotFoundError(q.id)
	}

	articles, err := c.engine.RecommendRelated(ctx, source, q.k)
	if err != nil {
		return err
	}
	return writeArticles(out, "", articles)
}

// runWorker はワーカーモードで起動する。
// ベクトル生成バックフィル、インタラクションのクリーンアップ、
// 運用HTTPサーバー（/health, /metrics）を起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. メトリクスとサービスの初期化
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	c := newComponents(cfg, db, collector, slog.Default())

	// 3. バックフィルスケジューラとクリーンアップジョブ
	scheduler := vectorize.NewScheduler(
		c.articles, c.articleSvc, collector, slog.Default(),
		cfg.BackfillMaxConcurrent, cfg.BackfillBatchSize,
	)
	cleanupJob := cleanup.NewCleanupJob(c.interactions, collector, slog.Default(), cfg.InteractionRetentionDays)

	// 4. 運用HTTPサーバー
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:   slog.Default(),
		Gatherer: registry,
		Database: db,
		BreakerState: func() string {
			return c.vectorizer.State().String()
		},
	})
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	go func() {
		slog.Info("ops server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("backfill_interval", cfg.BackfillInterval),
		slog.Int("max_concurrent", cfg.BackfillMaxConcurrent),
		slog.Int("retention_days", cfg.InteractionRetentionDays),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, cleanupInterval)

	// バックフィルスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.BackfillInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(out io.Writer, cfg *config.Config, args migrateArgs) error {
	slog.Info("running database migrations",
		slog.String("action", args.action),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch args.action {
	case migrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, args.steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", args.steps))
	case migrateStatus:
		version, dirty, err := database.MigrationStatus(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		fmt.Fprintf(out, "version=%d dirty=%t\n", version, dirty)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
