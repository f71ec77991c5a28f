package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentmem/pkg/audit"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

// verifyCmd replays the audit chain against the observation log.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit chain and the observation log",
	Long: `Replay the audit hash chain and verify the observation log against its
latest record. Any out-of-band edit to either file is reported as tampering.

Exits non-zero when the store does not verify.

Examples:
  agentmem verify`,
	Args: cobra.NoArgs,
	RunE: runVerifyCmd,
}

func runVerifyCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	mgr, logger, err := openManager(cmd.Context(), cfg)
	if err != nil {
		if audit.IsTamper(err) {
			fmt.Fprintf(os.Stderr, "TAMPER DETECTED: %v\n", err)
		}
		return err
	}
	defer func() {
		_ = mgr.Close()
		_ = logger.Sync()
	}()

	if err := mgr.VerifyAudit(cmd.Context()); err != nil {
		if audit.IsTamper(err) {
			fmt.Fprintf(os.Stderr, "TAMPER DETECTED: %v\n", err)
			return err
		}
		return fmt.Errorf("verification failed: %w", err)
	}

	st, err := mgr.Status(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Printf("Audit chain verified: %d records, head %s\n", st.AuditRecords, shortHash(st.LastHash))
	return nil
}
