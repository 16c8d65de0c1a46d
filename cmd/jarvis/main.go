package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jarvis/internal/ai"
	"github.com/xxxsen/jarvis/internal/chunker"
	"github.com/xxxsen/jarvis/internal/config"
	"github.com/xxxsen/jarvis/internal/embedcache"
	"github.com/xxxsen/jarvis/internal/filestore"
	"github.com/xxxsen/jarvis/internal/handler"
	"github.com/xxxsen/jarvis/internal/history"
	"github.com/xxxsen/jarvis/internal/job"
	"github.com/xxxsen/jarvis/internal/repo"
	"github.com/xxxsen/jarvis/internal/schedule"
	"github.com/xxxsen/jarvis/internal/service"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "jarvis",
		Short: "jarvis RAG assistant server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run jarvis server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded",
				zap.String("env_file", envFile),
				zap.String("ai_provider", cfg.AI.Provider),
			)

			db, err := repo.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := repo.ApplyMigrations(db, cfg.AI.EmbedDimension); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, db)
		},
	}

	runCmd.Flags().StringVar(&envFile, "env", ".env", "path to env file")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, db *sql.DB) error {
	logutil.GetLogger(context.Background()).Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("chat_model", cfg.AI.ChatModel),
		zap.String("embed_model", cfg.AI.EmbedModel),
		zap.String("file_store", cfg.FileStore.Type),
	)

	chatProvider, err := ai.New(cfg.AI.Provider, cfg.AI.ProviderArgs(cfg.AI.Provider))
	if err != nil {
		return fmt.Errorf("init chat provider: %w", err)
	}
	embedProvider := chatProvider
	if cfg.AI.EmbedProvider != cfg.AI.Provider {
		embedProvider, err = ai.New(cfg.AI.EmbedProvider, cfg.AI.ProviderArgs(cfg.AI.EmbedProvider))
		if err != nil {
			return fmt.Errorf("init embed provider: %w", err)
		}
	}
	generator := ai.NewGenerator(chatProvider, cfg.AI.ChatModel)
	embedder := embedcache.WrapLruCacheToEmbedder(
		ai.NewEmbedder(embedProvider, cfg.AI.EmbedModel, cfg.AI.EmbedDimension),
		cfg.EmbedCacheSize,
		cfg.EmbedCacheTTL,
	)

	chk, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return err
	}
	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	chunkRepo := repo.NewChunkRepo(db)
	hist := history.NewMemoryStore(cfg.MaxConversationHistory, cfg.ConversationTTL)

	ragService := service.NewRAGService(chk, embedder, generator, chunkRepo, hist, files, service.Options{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxSearchResults:    cfg.MaxSearchResults,
		MaxHistory:          cfg.MaxConversationHistory,
		DefaultTemperature:  cfg.DefaultTemperature,
		DefaultMaxTokens:    cfg.DefaultMaxTokens,
		ResponseCacheSize:   cfg.ResponseCacheSize,
		ResponseCacheTTL:    cfg.ResponseCacheTTL,
	})

	router := handler.NewRouter(handler.RouterDeps{
		Chat:            handler.NewChatHandler(ragService),
		Knowledge:       handler.NewKnowledgeHandler(ragService),
		Search:          handler.NewSearchHandler(ragService),
		Status:          handler.NewStatusHandler(ragService),
		APIKey:          cfg.APIKey,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitWindow: cfg.RateLimitWindow,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewScheduler()
	if cfg.UploadRetention > 0 {
		if err := scheduler.AddJob(job.NewUploadCleanupJob(files, cfg.UploadRetention), cfg.CleanupSpec); err != nil {
			return fmt.Errorf("schedule cleanup job: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
