package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/schoolcore/fees-management/internal/gateway"
	"github.com/schoolcore/fees-management/internal/ledger"
	ledgerpg "github.com/schoolcore/fees-management/internal/ledger/postgres"
	"github.com/schoolcore/fees-management/internal/reconcile"
	"github.com/schoolcore/fees-management/pkg/logger"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Cross-check local records against the gateway",
}

var auditPaymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Sweep pending transactions and report gateway mismatches",
	Long: `Ask the gateway for every payment attempt on each pending transaction's
order and report rows where the two sides disagree, most importantly captures
the ledger never reconciled.`,
	RunE: runPaymentAudit,
}

var (
	auditGraceMinutes int
	auditLimit        int
)

func runPaymentAudit(_ *cobra.Command, _ []string) error {
	config, err := loadConfig(".")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	log := logger.LoggerWrapper()

	db, _, err := initDB(config.Database)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}

	ledgerSvc := ledger.NewService(ledgerpg.NewLedgerRepository(db), log)
	gatewayClient := gateway.NewClient(config.Gateway, log)
	auditor := reconcile.NewAuditor(ledgerSvc, gatewayClient, log)

	grace := time.Duration(auditGraceMinutes) * time.Minute
	report, err := auditor.Sweep(context.Background(), grace, auditLimit)
	if err != nil {
		return fmt.Errorf("audit sweep: %w", err)
	}

	fmt.Printf("Checked %d pending transactions (older than %s, limit %d)\n",
		report.Checked, grace, auditLimit)

	if report.Checked == 0 {
		fmt.Println("Nothing to audit.")
		return nil
	}

	for _, f := range report.Findings {
		fmt.Printf("  tx=%d student=%d order=%s %s: %s\n",
			f.TransactionID, f.StudentID, f.OrderID, f.Kind, f.Detail)
	}

	mismatches := report.Mismatches()
	if len(mismatches) == 0 {
		fmt.Println("No mismatches between local and gateway records.")
		return nil
	}

	fmt.Printf("%d mismatch(es) need attention:\n", len(mismatches))
	for _, f := range mismatches {
		fmt.Printf("  tx=%d order=%s %s: %s\n", f.TransactionID, f.OrderID, f.Kind, f.Detail)
	}
	return nil
}

func init() {
	auditPaymentsCmd.Flags().IntVar(&auditGraceMinutes, "grace", 30,
		"skip transactions younger than this many minutes, their confirmation may still arrive")
	auditPaymentsCmd.Flags().IntVar(&auditLimit, "limit", 200, "maximum transactions to check per sweep")

	auditCmd.AddCommand(auditPaymentsCmd)
	rootCmd.AddCommand(auditCmd)
}
