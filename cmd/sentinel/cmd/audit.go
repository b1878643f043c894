package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/sentinel/ledger"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify the audit ledger offline",
	Long: `Read the audit ledger and check every order intent resolved
exactly once: no duplicate live orders per fingerprint, no acked order
without a terminal outcome, no orphan detected but never cancelled.

Example:
  sentinel audit --ledger audit.csv
  sentinel audit --ledger audit.db --sqlite`,
	RunE: runAudit,
}

var (
	auditPath   string
	auditSQLite bool
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVarP(&auditPath, "ledger", "l", "", "path to the ledger file (required)")
	auditCmd.Flags().BoolVar(&auditSQLite, "sqlite", false, "ledger is a SQLite database, not CSV")
	auditCmd.MarkFlagRequired("ledger")
}

func runAudit(cmd *cobra.Command, args []string) error {
	var entries []ledger.Entry
	var err error
	if auditSQLite {
		var db *ledger.SQLiteLedger
		db, err = ledger.NewSQLite(auditPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer db.Close()
		entries, err = db.ReadAll()
	} else {
		entries, err = ledger.ReadCSV(auditPath)
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	report := ledger.Audit(entries)
	fmt.Printf("entries: %d\n", report.Entries)
	fmt.Printf("intents: %d\n", report.Intents)
	fmt.Printf("orphans: %d\n", report.Orphans)

	if len(report.Violations) == 0 {
		fmt.Println("audit clean")
		return nil
	}
	for _, v := range report.Violations {
		fmt.Printf("VIOLATION: %s\n", v)
	}
	return fmt.Errorf("audit found %d violations", len(report.Violations))
}
