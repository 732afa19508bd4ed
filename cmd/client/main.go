package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

var (
	flagConfigPath string
	flagUser       string
	flagToken      string
)

var rootCmd = &cobra.Command{
	Use:           "wirechat",
	Short:         "Two-party private chat client",
	Long:          "wirechat keeps a conversation in sync against a realtime backend: optimistic sends, edits, soft deletes, reactions, read receipts, and presence.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print client and protocol version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("wirechat-client dev (protocol 1)")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to client.yaml")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id for local dev sessions")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "session token (overrides config)")
	rootCmd.AddCommand(versionCmd, chatCmd, statusCmd)
}

// loadConfig resolves configuration with flag overrides applied last.
func loadConfig() (config.Config, error) {
	bootLog := log.New("info")
	cfg, _, err := config.Load(bootLog, flagConfigPath)
	if err != nil {
		return cfg, err
	}
	if flagToken != "" {
		cfg.Token = flagToken
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
