package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/auth"
	"github.com/schoolcore/fees-management/internal/core/events"
	"github.com/schoolcore/fees-management/internal/fees"
	"github.com/schoolcore/fees-management/internal/gateway"
	"github.com/schoolcore/fees-management/internal/ledger"
	ledgerpg "github.com/schoolcore/fees-management/internal/ledger/postgres"
	"github.com/schoolcore/fees-management/internal/mail"
	"github.com/schoolcore/fees-management/internal/receipt"
	"github.com/schoolcore/fees-management/internal/reconcile"
	reconcilepg "github.com/schoolcore/fees-management/internal/reconcile/postgres"
	"github.com/schoolcore/fees-management/internal/reports"
	reportspg "github.com/schoolcore/fees-management/internal/reports/postgres"
	"github.com/schoolcore/fees-management/internal/transport"
	"github.com/schoolcore/fees-management/internal/transport/rest"
	"github.com/schoolcore/fees-management/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config  *internal.Config
	DB      *gorm.DB
	ReadDB  *sqlx.DB
	Router  *chi.Mux
	Emitter *receipt.Emitter
	Logger  *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		deps.Emitter.Shutdown()
		if err := deps.ReadDB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	log := logger.LoggerWrapper()

	db, readDB, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	publicKey, err := config.Security.GetPublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load JWT public key: %w", err)
	}
	verifier := auth.NewVerifier(publicKey, log)

	eventBus := events.NewEventBus(log)

	ledgerSvc := ledger.NewService(ledgerpg.NewLedgerRepository(db), log)
	gatewayClient := gateway.NewClient(config.Gateway, log)

	var sender mail.Sender
	if config.Mail.Console || config.Mail.SendGridKey == "" {
		sender = mail.NewConsoleSender(log)
	} else {
		sender = mail.NewSendGridSender(config.Mail.SendGridKey, config.Mail.FromName, config.Mail.FromEmail)
	}
	emitter := receipt.NewEmitter(sender, ledgerSvc, ledgerSvc, receipt.Config{
		SchoolName: config.Mail.FromName,
		MaxWorkers: config.Mail.MaxWorkers,
		QueueSize:  config.Mail.QueueSize,
	}, log)
	emitter.SubscribeTo(eventBus)

	engine := reconcile.NewEngine(ledgerSvc, gatewayClient, eventBus, log)

	baseHandler := transport.NewBaseHandler(log)
	callbackURL := config.Server.BaseURL + "/api/v1/payments/callback"

	feesSvc := fees.NewService(ledgerSvc, gatewayClient, config.Gateway.KeyID, config.Gateway.Currency, callbackURL, log)
	reportsSvc := reports.NewService(reportspg.NewReportsRepository(readDB), log)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.RouterDeps{
		DB:              readDB.DB,
		Verifier:        verifier,
		FeesHandler:     fees.NewHandler(baseHandler, feesSvc),
		ReportsHandler:  reports.NewHandler(log, reportsSvc),
		CallbackHandler: reconcile.NewCallbackHandler(baseHandler, engine, config.Server.SuccessURL, config.Server.FailureURL, log),
		WebhookHandler:  reconcile.NewWebhookHandler(baseHandler, engine, reconcilepg.NewEventRepository(db), log),
		AllowedOrigins:  config.Server.AllowedOrigins,
		Logger:          log,
	})

	return &Dependencies{
		Config:  config,
		DB:      db,
		ReadDB:  readDB,
		Router:  router,
		Emitter: emitter,
		Logger:  log,
	}, nil
}

// initDB opens one connection pool and hands it to both sides: gorm for the
// write path, sqlx over the same pool for the read-only reports.
func initDB(cfg internal.DatabaseConfig) (*gorm.DB, *sqlx.DB, error) {
	db, err := gorm.Open(gormpg.Open(cfg.GetDSN()), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to access db pool: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, sqlx.NewDb(sqlDB, "pgx"), nil
}
