package cli

import (
	"database/sql"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/gapura/pkg/gateway"
	"github.com/harun/gapura/pkg/store"
)

var (
	approvalsStatus string
	approvalsLimit  int
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List approvals",
	Long:  `List approval requests, pending ones by default.`,
	RunE:  runApprovals,
}

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending request and execute the suspended tool run",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var denyCmd = &cobra.Command{
	Use:   "deny <approval-id>",
	Short: "Deny a pending request without executing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func init() {
	approvalsCmd.Flags().StringVar(&approvalsStatus, "status", store.ApprovalPending, "filter by status (pending, approved, denied)")
	approvalsCmd.Flags().IntVar(&approvalsLimit, "limit", 20, "maximum number of approvals to show")
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
}

func runApprovals(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var approvals []*store.Approval
	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		approvals, err = a.gateway.ListApprovals(ctx, tx, approvalsStatus, approvalsLimit)
		return err
	})
	if err != nil {
		return err
	}
	if approvals == nil {
		approvals = []*store.Approval{}
	}
	return printJSON(approvals)
}

func runApprove(cmd *cobra.Command, args []string) error {
	return resolveApproval(cmd, args[0], true)
}

func runDeny(cmd *cobra.Command, args []string) error {
	return resolveApproval(cmd, args[0], false)
}

// resolveApproval runs the resolution and, on approve, the resumed
// execution inside one committed transaction.
func resolveApproval(cmd *cobra.Command, approvalID string, approve bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var result gateway.Result
	err = a.withIdentity(ctx, func(tx *sql.Tx) error {
		if approve {
			result = a.gateway.Approve(ctx, tx, approvalID, a.runCtx)
		} else {
			result = a.gateway.Deny(ctx, tx, approvalID, a.runCtx)
		}
		return result.InternalError()
	})
	if err != nil {
		return err
	}

	if err := printJSON(result); err != nil {
		return err
	}
	if result.Status == gateway.StatusError {
		os.Exit(1)
	}
	return nil
}
