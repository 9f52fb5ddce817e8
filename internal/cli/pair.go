package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentgate/internal/config"
	"github.com/andywolf/agentgate/internal/pairing"
)

var pairCmd = &cobra.Command{
	Use:   "pair [code]",
	Short: "Exchange a pairing code for a bearer token",
	Long: `Pair with a running gateway. The code is printed by the server on
startup and works exactly once; the returned token is shown here once and
never stored by the server in plaintext.

Example:
  agentgate pair 4f1c9a2e-... --server http://127.0.0.1:8420`,
	Args: cobra.ExactArgs(1),
	RunE: runPair,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke all paired tokens",
	Long: `Remove every persisted token hash from the token file. Clients must
pair again with a fresh code. Run against the same token file the server
uses, while the server is stopped.`,
	Args: cobra.NoArgs,
	RunE: runRevoke,
}

func init() {
	rootCmd.AddCommand(pairCmd, revokeCmd)

	pairCmd.Flags().String("server", "http://127.0.0.1:8420", "gateway base URL")
}

func runPair(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")

	body, err := json.Marshal(map[string]string{"code": args[0]})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		server+"/v1/pair", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("pairing request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pairing rejected (%d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("unexpected pairing response: %w", err)
	}

	fmt.Println(parsed.Token)
	return nil
}

func runRevoke(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	guard, _, err := pairing.NewGuard(pairing.Config{
		TokenPath:  cfg.Pairing.TokenFile,
		MaxAgeDays: cfg.Pairing.TokenMaxAgeDays,
	})
	if err != nil {
		return err
	}
	if err := guard.Revoke(); err != nil {
		return err
	}
	fmt.Println("all tokens revoked")
	return nil
}
