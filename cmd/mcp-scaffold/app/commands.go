// Package app provides the entry point for the mcp-scaffold command-line
// application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdutton/mcp-scaffold/pkg/crypto"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mcp-scaffold",
	DisableAutoGenTag: true,
	Short:             "MCP server scaffold with OAuth authentication",
	Long: `mcp-scaffold runs an MCP (Model Context Protocol) server behind an
OAuth 2.1 authorization-code flow with PKCE. It brokers authentication
against upstream identity providers (Google, GitHub, Microsoft, or any
OIDC issuer), stores tokens encrypted at rest, and registers OAuth
clients dynamically per RFC 7591.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize(false, viper.GetBool("debug"))
	},
}

// NewRootCmd creates a new root command for the mcp-scaffold CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the OAuth and MCP server",
		Long: `Start the HTTP server exposing the OAuth authorization flow, dynamic
client registration, and the MCP endpoint. Configuration comes from the
file given by --config plus MCP_SCAFFOLD_* environment overrides.`,
		RunE: runServe,
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a token encryption key",
		Long: `Generate a fresh AES-256 key for token encryption at rest, printed
base64-encoded. Store it in the secret named by encryption.key_secret.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			cmd.Println(key)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("mcp-scaffold version: %s\n", getVersion())
		},
	}
}

// getVersion returns the version string (set at build time via ldflags).
func getVersion() string {
	return version
}

var version = "dev"
