package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/redbearlabs/sandbox/internal/isolation"
)

var policyLanguage string

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the effective syscall policy for a runtime",
	Long: `Print the syscall policy the runner will enforce, after applying any
configured policy file and the allowed-syscalls override. The output is
valid input for the policy_file config key.`,
	RunE: runPolicy,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.Flags().StringVarP(&policyLanguage, "language", "l", "python3", "Runtime (python3, nodejs)")
}

func runPolicy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	policy := isolation.DefaultPolicy(policyLanguage)
	if cfg.PolicyFile != "" {
		policy, err = isolation.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
	}
	policy = policy.WithEnvOverride()

	out, err := yaml.Marshal(policy)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
