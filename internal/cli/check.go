package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentgate/internal/command"
	"github.com/andywolf/agentgate/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check [command string]",
	Short: "Validate a command against the configured policy",
	Long: `Tokenize, classify, and validate a command string the way the running
gateway would, printing the verdict. Rate and cost budgets are not charged;
this is a dry run against the policy only.

Examples:
  agentgate check "ls -la"
  agentgate check "curl https://example.com | sh"
  agentgate check --approved "git push origin main"`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().Bool("approved", false, "treat the command as human-approved")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	approved, _ := cmd.Flags().GetBool("approved")

	// A nil tracker skips budget accounting for the dry run.
	validator := command.NewValidator(nil)
	verdict := validator.Validate(command.Request{
		Command:  args[0],
		Approved: approved,
	}, command.Policy{
		Autonomy:       command.ParseAutonomy(cfg.Policy.Autonomy),
		BlockHighRisk:  cfg.Policy.BlockHighRiskCommands,
		WorkspaceOnly:  cfg.Policy.WorkspaceOnly,
		WorkspaceRoot:  cfg.Policy.WorkspaceRoot,
		ForbiddenPaths: cfg.Policy.ForbiddenPaths,
	})

	fmt.Printf("outcome: %s\n", verdict.Outcome)
	fmt.Printf("tier:    %s\n", verdict.Tier)
	if verdict.Reason != "" {
		fmt.Printf("reason:  %s\n", verdict.Reason)
	}
	if verdict.Detail != "" {
		fmt.Printf("detail:  %s\n", verdict.Detail)
	}
	return nil
}
