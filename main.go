package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/clients/horizonclient"

	"github.com/saif727/reward-token-relay/config"
	"github.com/saif727/reward-token-relay/controllers"
	"github.com/saif727/reward-token-relay/ledger"
	"github.com/saif727/reward-token-relay/logging"
	"github.com/saif727/reward-token-relay/middleware"
	"github.com/saif727/reward-token-relay/services"
)

func main() {
	// Load configuration from .env and environment variables
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect the custodial wallet; the service must not serve without it
	wallet, err := dialLedger(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize ledger client")
	}
	if closer, ok := wallet.(interface{ Close() }); ok {
		defer closer.Close()
	}
	logger.WithFields(logrus.Fields{
		"backend": cfg.Backend,
		"network": wallet.Network(),
		"token":   wallet.TokenContract(),
		"address": wallet.Address(),
	}).Info("ledger client ready")

	disbursements := services.NewDisbursementService(wallet, cfg.ConfirmTimeout, logging.Component(logger, "disbursement"))
	go disbursements.Run(ctx)

	reporter := services.NewBalanceReporter(wallet, cfg.ReportInterval, logging.Component(logger, "balance-reporter"))
	go reporter.Run(ctx)

	httpLog := logging.Component(logger, "http")
	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, httpLog)
	limiter.StartCleanup(cfg.RateLimitWindow, ctx.Done())

	router := controllers.NewRouter(controllers.RouterConfig{
		Health:      controllers.NewHealthController(wallet),
		Disburse:    controllers.NewDisbursementController(disbursements, wallet.ValidateAddress, cfg.ExplorerTxLink, httpLog),
		RateLimiter: limiter,
		CORSOrigins: cfg.CORSOrigins(),
		Metrics:     true,
		Log:         httpLog,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func dialLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	switch cfg.Backend {
	case config.BackendStellar:
		client := &horizonclient.Client{
			HorizonURL: cfg.RPCURL,
			HTTP:       &http.Client{Timeout: cfg.ConfirmTimeout},
		}
		return ledger.DialStellar(dialCtx, ledger.StellarConfig{
			Client:  client,
			Seed:    cfg.SigningKey,
			Asset:   cfg.TokenContract,
			Network: cfg.Network,
		})
	default:
		return ledger.DialEVM(dialCtx, ledger.EVMConfig{
			RPCURL:        cfg.RPCURL,
			PrivateKeyHex: cfg.SigningKey,
			TokenContract: cfg.TokenContract,
			Network:       cfg.Network,
		})
	}
}
