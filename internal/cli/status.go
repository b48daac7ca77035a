package cli

import (
	"database/sql"
	"sort"

	"github.com/spf13/cobra"

	"github.com/harun/gapura/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Show configured paths, registered tools, and pending approval count.`,
	RunE:  runStatus,
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools",
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toolsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var pending int
	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		approvals, err := store.ListApprovals(ctx, tx, store.ApprovalPending, 100)
		if err != nil {
			return err
		}
		pending = len(approvals)
		return nil
	})
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"profile":           a.cfg.Profile.ID,
		"database":          a.cfg.Database,
		"policy_path":       a.cfg.PolicyPath,
		"registered_tools":  a.registry.Count(),
		"pending_approvals": pending,
	})
}

func runTools(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	type toolInfo struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Mode        string `json:"mode"`
		Description string `json:"description"`
	}

	specs := a.registry.List()
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	tools := make([]toolInfo, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, toolInfo{
			Name:        spec.Name,
			Version:     spec.Version,
			Mode:        string(spec.Mode),
			Description: spec.Description,
		})
	}
	return printJSON(tools)
}
