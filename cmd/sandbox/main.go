package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/redbearlabs/sandbox/internal/config"
	"github.com/redbearlabs/sandbox/internal/storage"
	"github.com/redbearlabs/sandbox/internal/storage/sqlite"
)

var verboseFlag bool

var rootCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Sandbox - isolated code execution for untrusted payloads",
	Long: `Sandbox runs untrusted code inside a confined worker process.

Each run is staged into a chroot-ready sandbox root and launched through
sandbox-runner, which drops privileges and installs a seccomp syscall
filter before the payload executes.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func openStore(cfg *config.Config) (storage.Store, error) {
	return sqlite.Open(cfg.Storage.DBPath)
}
