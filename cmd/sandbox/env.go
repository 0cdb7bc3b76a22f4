package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redbearlabs/sandbox/internal/language"
	"github.com/redbearlabs/sandbox/internal/sandboxenv"
)

var (
	envLanguage string
	envForce    bool
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage sandbox filesystem roots",
}

var envInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Populate a runtime root from the host installation",
	RunE:  runEnvInit,
}

func init() {
	rootCmd.AddCommand(envCmd)
	envCmd.AddCommand(envInitCmd)

	envInitCmd.Flags().StringVarP(&envLanguage, "language", "l", "", "Runtime to initialize (default: all)")
	envInitCmd.Flags().BoolVar(&envForce, "force", false, "Overwrite files already present in the root")
}

func runEnvInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	langs := language.Names()
	if envLanguage != "" {
		langs = []string{envLanguage}
	}
	for _, lang := range langs {
		if err := sandboxenv.Init(cfg, lang, envForce, logger); err != nil {
			return fmt.Errorf("init %s: %w", lang, err)
		}
		fmt.Printf("Initialized %s root\n", lang)
	}
	return nil
}
