package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/redbearlabs/sandbox/internal/executor"
	"github.com/redbearlabs/sandbox/internal/isolation"
	"github.com/redbearlabs/sandbox/internal/language"
)

var (
	runLanguage string
	runNetwork  bool
	runPreload  string
	runTimeout  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a source file in the sandbox",
	Long: `Run executes a source file inside the confined runner. Use "-" to
read the source from stdin, in which case --language is required.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runLanguage, "language", "l", "", "Payload language (python3, nodejs); inferred from the file extension when omitted")
	runCmd.Flags().BoolVar(&runNetwork, "network", false, "Allow network syscalls (still gated by the host config)")
	runCmd.Flags().StringVar(&runPreload, "preload", "", "File whose contents run before the payload (needs enable_preload)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-run timeout (default: worker_timeout from config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	source, lang, err := readSource(args[0])
	if err != nil {
		return err
	}

	var preload string
	if runPreload != "" {
		data, err := os.ReadFile(runPreload)
		if err != nil {
			return fmt.Errorf("reading preload file: %w", err)
		}
		preload = string(data)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	exec, err := executor.New(cfg, store, newLogger())
	if err != nil {
		return err
	}

	result, err := exec.Run(cmd.Context(), executor.Request{
		Language: lang,
		Code:     source,
		Preload:  preload,
		Options:  isolation.Options{EnableNetwork: runNetwork},
		Timeout:  runTimeout,
	})
	if err != nil {
		return err
	}

	io.WriteString(os.Stdout, result.Stdout)
	io.WriteString(os.Stderr, result.Stderr)
	if result.PolicyViolation {
		fmt.Fprintln(os.Stderr, "sandbox: security policy violation")
	}
	switch {
	case result.ExitCode > 0:
		os.Exit(result.ExitCode)
	case result.ExitCode < 0:
		// Killed by signal or timed out.
		os.Exit(1)
	}
	return nil
}

func readSource(path string) ([]byte, string, error) {
	lang := runLanguage
	if path == "-" {
		if lang == "" {
			return nil, "", fmt.Errorf("--language is required when reading from stdin")
		}
		source, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("reading stdin: %w", err)
		}
		return source, lang, nil
	}

	if lang == "" {
		lang = inferLanguage(path)
		if lang == "" {
			return nil, "", fmt.Errorf("cannot infer language from %s; use --language", path)
		}
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading source file: %w", err)
	}
	return source, lang, nil
}

func inferLanguage(path string) string {
	for _, name := range language.Names() {
		rt, err := language.Lookup(name)
		if err == nil && strings.HasSuffix(path, rt.Ext) {
			return name
		}
	}
	return ""
}
