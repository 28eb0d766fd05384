package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Bronek/clio/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	flagConfig  string
	flagEnvFile string
)

var rootCmd = &cobra.Command{
	Use:   "clio-gateway",
	Short: "Read gateway serving validated ledger state over JSON-RPC and websockets",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return loadEnvFile(flagEnvFile)
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve RPC requests from the ledger store",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Publish ledgers from a JSON-lines file into the ledger store (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to a config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file loaded before reading CLIO_* variables")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd, importCmd)
	rootCmd.Version = version
}

// loadEnvFile loads a dotenv file. A missing default file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
