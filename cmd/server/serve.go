package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"triple-impacto/internal/affiliate"
	"triple-impacto/internal/alert"
	"triple-impacto/internal/bonda"
	"triple-impacto/internal/config"
	"triple-impacto/internal/database"
	"triple-impacto/internal/fiserv"
	"triple-impacto/internal/httpapi"
	"triple-impacto/internal/logging"
	"triple-impacto/internal/payment"
	"triple-impacto/internal/store"
	"triple-impacto/internal/utils"
	"triple-impacto/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the affiliate retry worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "run database migrations before serving")

	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.ConnectPostgres(cfg, logger)
	if err != nil {
		return err
	}
	if migrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}

	rdb, err := database.ConnectRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var guard payment.Guard = payment.NopGuard{}
	if rdb != nil {
		defer rdb.Close()
		guard = payment.NewRedisGuard(rdb)
	}

	gatewayCfg, err := cfg.FiservGateway()
	if err != nil {
		return err
	}
	if gatewayCfg == nil {
		logger.Warn("Fiserv Connect not configured (FISERV_CONNECT_URL, FISERV_CONNECT_STORE_ID_1, FISERV_CONNECT_SHARED_SECRET)")
	}

	allowed, err := utils.ParseCIDRs(cfg.NotifyAllowedCIDRs)
	if err != nil {
		return fmt.Errorf("invalid FISERV_NOTIFY_ALLOWED_CIDRS: %w", err)
	}

	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return fmt.Errorf("invalid SNOWFLAKE_NODE: %w", err)
	}

	alerts, err := alert.New(cfg.TelegramBotToken, cfg.TelegramAlertChatID, logger)
	if err != nil {
		return err
	}

	st := store.New(db)
	provisioner := affiliate.NewProvisioner(st, bonda.NewClient(cfg.BondaAPIURL, cfg.BondaAPIKey), node, alerts, logger)
	payments := payment.NewService(st, st, fiserv.NewBuilder(gatewayCfg, logger), provisioner, guard, cfg.NotificationURL(), logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewServer(payments, allowed, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	retrier := worker.NewAffiliateRetrier(provisioner, cfg.AffiliateRetryInterval, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return retrier.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
