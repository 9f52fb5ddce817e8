package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentgate/internal/config"
	"github.com/andywolf/agentgate/internal/secrets"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage the encrypted secret store",
}

var secretSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Store a secret",
	Long: `Encrypt and store a secret. The value is read from stdin so it does
not land in shell history.

Example:
  echo -n "tok-123" | agentgate secret set api_token`,
	Args: cobra.ExactArgs(1),
	RunE: runSecretSet,
}

var secretGetCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Print a decrypted secret to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretGet,
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret names",
	Args:  cobra.NoArgs,
	RunE:  runSecretList,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretDelete,
}

var secretMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade all legacy-format entries to the current format",
	Args:  cobra.NoArgs,
	RunE:  runSecretMigrate,
}

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(secretSetCmd, secretGetCmd, secretListCmd, secretDeleteCmd, secretMigrateCmd)
}

func openStoreFromConfig(cmd *cobra.Command) (*secrets.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return openSecretStore(cmd.Context(), cfg)
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	store, err := openStoreFromConfig(cmd)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && value == "" {
		return fmt.Errorf("failed to read secret from stdin: %w", err)
	}
	value = strings.TrimRight(value, "\n")

	if err := store.Set(args[0], value); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "stored %s\n", args[0])
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	store, err := openStoreFromConfig(cmd)
	if err != nil {
		return err
	}

	value, err := store.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	store, err := openStoreFromConfig(cmd)
	if err != nil {
		return err
	}

	for _, name := range store.List() {
		fmt.Println(name)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	store, err := openStoreFromConfig(cmd)
	if err != nil {
		return err
	}

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "deleted %s\n", args[0])
	return nil
}

func runSecretMigrate(cmd *cobra.Command, args []string) error {
	store, err := openStoreFromConfig(cmd)
	if err != nil {
		return err
	}

	migrated, err := store.MigrateAll()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "migrated %d entries\n", migrated)
	return nil
}
