package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/database"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/kafka"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"github.com/wyfcoding/pkg/metrics"
	"github.com/wyfcoding/repotrading/internal/repo/application"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
	"github.com/wyfcoding/repotrading/internal/repo/infrastructure/persistence/mysql"
	"github.com/wyfcoding/repotrading/internal/repo/infrastructure/symbolgen"
	repoconsumer "github.com/wyfcoding/repotrading/internal/repo/interfaces/consumer"
	httpserver "github.com/wyfcoding/repotrading/internal/repo/interfaces/http"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

var configPath = flag.String("config", "configs/repoengine/config.toml", "config file path")

// accrualOrgID 计息批处理覆盖的租户。多租户部署按租户各跑一个实例。
const accrualOrgIDEnv = "REPO_ACCRUAL_ORG_ID"

func main() {
	flag.Parse()

	// 1. Config
	var cfg config.Config
	if err := config.Load(*configPath, &cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	logCfg := &logging.Config{Service: cfg.Server.Name, Module: "repoengine", Level: cfg.Log.Level}
	logger := logging.NewFromConfig(logCfg)
	slog.SetDefault(logger.Logger)

	// 3. Metrics
	metricsImpl := metrics.NewMetrics(cfg.Server.Name)
	if cfg.Metrics.Enabled {
		go metricsImpl.ExposeHTTP(cfg.Metrics.Port)
	}

	// 4. Infrastructure
	db, err := database.NewDB(cfg.Data.Database, cfg.CircuitBreaker, logger, metricsImpl)
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}

	if cfg.Server.Environment == "dev" {
		if err := db.RawDB().AutoMigrate(
			&domain.RepoTrade{},
			&domain.Allocation{},
			&domain.CollateralPosition{},
			&domain.SubstitutionRecord{},
			&domain.Security{},
			&domain.CleanPriceQuote{},
			&domain.AccrualRecord{},
			&domain.LedgerEntry{},
			&outbox.Message{},
		); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// 5. Kafka & Outbox
	kafkaProducer := kafka.NewProducer(&cfg.MessageQueue.Kafka, logger, metricsImpl)
	outboxMgr := outbox.NewManager(db.RawDB(), logger.Logger)
	pusher := func(ctx context.Context, topic, key string, payload []byte) error {
		return kafkaProducer.PublishToTopic(ctx, topic, []byte(key), payload)
	}
	outboxProcessor := outbox.NewProcessor(outboxMgr, pusher, 100, 2*time.Second)
	publisher := outbox.NewPublisher(outboxMgr)

	// 6. Repositories
	tradeRepo := mysql.NewTradeRepository(db.RawDB())
	collateralRepo := mysql.NewCollateralRepository(db.RawDB())
	accrualRepo := mysql.NewAccrualRepository(db.RawDB())
	ledgerRepo := mysql.NewLedgerRepository(db.RawDB())
	securityRepo := mysql.NewSecurityRepository(db.RawDB())
	symbolGen := symbolgen.NewGenerator()

	// 7. Application Services
	policy := domain.DefaultCoveragePolicy()
	commandSvc := application.NewTradeCommandService(tradeRepo, collateralRepo, ledgerRepo, securityRepo, symbolGen, publisher, policy, logger.Logger)
	rolloverSvc := application.NewRolloverService(tradeRepo, collateralRepo, symbolGen, publisher, logger.Logger)
	accrualRunner := application.NewAccrualRunner(tradeRepo, accrualRepo, ledgerRepo, publisher, logger.Logger)
	querySvc := application.NewQueryService(tradeRepo, collateralRepo, accrualRepo, ledgerRepo, policy, logger.Logger)

	// 8. Market data consumer
	cleanPriceHandler := repoconsumer.NewCleanPriceHandler(securityRepo, logger.Logger)
	consumerCfg := cfg.MessageQueue.Kafka
	consumerCfg.Topic = repoconsumer.CleanPriceTopic
	if consumerCfg.GroupID == "" {
		consumerCfg.GroupID = "repoengine-cleanprice-group"
	}
	cleanPriceConsumer := kafka.NewConsumer(&consumerCfg, logger, metricsImpl)
	cleanPriceConsumer.Start(context.Background(), 3, cleanPriceHandler.Handle)

	// 9. Daily accrual schedule
	accrualOrgID := os.Getenv(accrualOrgIDEnv)
	cronRunner := cron.New()
	if accrualOrgID != "" {
		if _, err := cronRunner.AddFunc("5 0 * * *", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			businessDate := time.Now().AddDate(0, 0, -1)
			result, err := accrualRunner.RunDay(ctx, accrualOrgID, businessDate)
			if err != nil {
				slog.Error("scheduled accrual run failed", "org_id", accrualOrgID, "error", err)
				return
			}
			slog.Info("scheduled accrual run finished",
				"org_id", accrualOrgID, "processed", result.Processed, "upserted", result.Upserted, "failed", result.Failed)
		}); err != nil {
			slog.Error("failed to register accrual schedule", "error", err)
			os.Exit(1)
		}
		cronRunner.Start()
	} else {
		slog.Warn("accrual schedule disabled", "reason", accrualOrgIDEnv+" not set")
	}

	// 10. Interfaces
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(cfg.Server.Name, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	httpHandler := httpserver.NewHandler(commandSvc, rolloverSvc, accrualRunner, querySvc)
	httpHandler.RegisterRoutes(r.Group("/api/v1"))

	// 11. Start
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		outboxProcessor.Start()
		<-ctx.Done()
		outboxProcessor.Stop()
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.GRPC.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		slog.Info("gRPC server starting", "addr", addr)
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTP.Port)
		server := &http.Server{Addr: addr, Handler: r}
		slog.Info("HTTP server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down servers...")
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}
		healthSrv.SetServingStatus(cfg.Server.Name, healthpb.HealthCheckResponse_NOT_SERVING)
		grpcSrv.GracefulStop()
		if cleanPriceConsumer != nil {
			_ = cleanPriceConsumer.Close()
		}
		cronCtx := cronRunner.Stop()
		<-cronCtx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
	}
}
