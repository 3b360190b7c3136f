package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/schoolcore/fees-management/internal/core/datamodel/transaction"
	"github.com/schoolcore/fees-management/internal/core/events"
	"github.com/schoolcore/fees-management/internal/ledger"
	ledgerpg "github.com/schoolcore/fees-management/internal/ledger/postgres"
	"github.com/schoolcore/fees-management/internal/mail"
	"github.com/schoolcore/fees-management/internal/receipt"
	"github.com/schoolcore/fees-management/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start worker pools for various services",
	Long:  `Start and manage worker pools for background processing.`,
}

var receiptsWorkerCmd = &cobra.Command{
	Use:   "receipts",
	Short: "Send receipt emails for completed payments",
	Long: `Poll the ledger for completed transactions whose receipt email has not
gone out yet and send it. Covers receipts the server dropped (full queue,
send failure, restart) as well as deployments that email receipts only from
this worker.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReceiptsWorker()
	},
}

var (
	receiptMaxWorkers   int
	receiptQueueSize    int
	receiptPollInterval time.Duration
	receiptBatchSize    int
)

func startReceiptsWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(os.Getenv("APP_ENV"))
	log := logger.LoggerWrapper()

	db, _, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init db: %v\n", err)
		os.Exit(1)
	}

	ledgerSvc := ledger.NewService(ledgerpg.NewLedgerRepository(db), log)

	var sender mail.Sender
	if config.Mail.Console || config.Mail.SendGridKey == "" {
		sender = mail.NewConsoleSender(log)
	} else {
		sender = mail.NewSendGridSender(config.Mail.SendGridKey, config.Mail.FromName, config.Mail.FromEmail)
	}

	emitter := receipt.NewEmitter(sender, ledgerSvc, ledgerSvc, receipt.Config{
		SchoolName: config.Mail.FromName,
		MaxWorkers: getIntFlag(receiptMaxWorkers, config.Mail.MaxWorkers),
		QueueSize:  getIntFlag(receiptQueueSize, config.Mail.QueueSize),
	}, log)

	eventBus := events.NewEventBus(log)
	emitter.SubscribeTo(eventBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("receipt worker is running. Press Ctrl+C to stop.",
		"poll_interval", receiptPollInterval,
		"batch_size", receiptBatchSize)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// The poll interval doubles as a grace period: rows completed within the
	// last interval are usually still being emailed by the server's own
	// emitter, so skipping them avoids most duplicate sends. The emailed mark
	// is written only after a successful send, which keeps the loop safe to
	// restart at any point.
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			enqueueUnsentReceipts(ctx, ledgerSvc, eventBus, log)
		case sig := <-sigChan:
			log.Info("received signal, shutting down receipt worker", "signal", sig)
			cancel()
			shutdownEmitter(emitter, log)
			return
		}
	}
}

func enqueueUnsentReceipts(ctx context.Context, ledgerSvc *ledger.Service, eventBus *events.EventBus, log *slog.Logger) {
	cutoff := time.Now().UTC().Add(-receiptPollInterval)
	rows, err := ledgerSvc.ListUnsentReceipts(cutoff, receiptBatchSize)
	if err != nil {
		log.Error("receipt worker: listing unsent receipts failed", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	log.Info("receipt worker: found unsent receipts", "count", len(rows))
	for _, tx := range rows {
		eventBus.Publish(ctx, completedEventFromRow(tx))
	}
}

func completedEventFromRow(tx *transaction.FeeTransaction) *events.PaymentCompletedEvent {
	orderRef, paymentRef, receiptNumber := "", "", ""
	if tx.ExternalRef != nil {
		orderRef = *tx.ExternalRef
	}
	if tx.PaymentRef != nil {
		paymentRef = *tx.PaymentRef
	}
	if tx.ReceiptNumber != nil {
		receiptNumber = *tx.ReceiptNumber
	}
	return events.NewPaymentCompletedEvent(tx.ID, tx.StudentID, orderRef, paymentRef, tx.Amount, receiptNumber)
}

func shutdownEmitter(emitter *receipt.Emitter, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		emitter.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		log.Info("receipt worker pool shutdown complete")
	case <-ctx.Done():
		log.Warn("shutdown timeout reached, forcing exit")
	}
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	receiptsWorkerCmd.Flags().IntVar(&receiptMaxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	receiptsWorkerCmd.Flags().IntVar(&receiptQueueSize, "queue-size", 0, "Job queue buffer size (overrides config)")
	receiptsWorkerCmd.Flags().DurationVar(&receiptPollInterval, "poll-interval", time.Minute, "How often to poll for unsent receipts")
	receiptsWorkerCmd.Flags().IntVar(&receiptBatchSize, "batch-size", 100, "Maximum receipts to enqueue per poll")

	workerCmd.AddCommand(receiptsWorkerCmd)
	rootCmd.AddCommand(workerCmd)
}
