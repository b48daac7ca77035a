package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/gapura/pkg/gateway"
)

var (
	runInput     string
	runInputFile string
)

var runCmd = &cobra.Command{
	Use:   "run <tool-name>",
	Short: "Run a tool through the gateway",
	Long: `Run a single tool invocation. The input payload is validated against the
tool's schema and checked against policy before the handler runs. Gated
tools return an approval id instead of executing; resolve it with
'gapura approve' or 'gapura deny'.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "input payload as a JSON object")
	runCmd.Flags().StringVarP(&runInputFile, "input-file", "f", "", "read input payload from a JSON file")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	input, err := resolveInput()
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var result gateway.Result
	err = a.withIdentity(ctx, func(tx *sql.Tx) error {
		result = a.gateway.RunTool(ctx, tx, args[0], input, a.runCtx)
		return result.InternalError()
	})
	if err != nil {
		return err
	}

	if err := printJSON(result); err != nil {
		return err
	}
	if result.Status != gateway.StatusOK && result.Status != gateway.StatusApprovalRequired {
		os.Exit(1)
	}
	return nil
}

func resolveInput() (map[string]interface{}, error) {
	raw := []byte(runInput)
	if runInputFile != "" {
		if runInput != "" {
			return nil, fmt.Errorf("--input and --input-file are mutually exclusive")
		}
		var err error
		raw, err = os.ReadFile(runInputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	}
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}

	var input map[string]interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("input is not a JSON object: %w", err)
	}
	return input, nil
}
