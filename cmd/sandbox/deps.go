package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/redbearlabs/sandbox/internal/deps"
	"github.com/redbearlabs/sandbox/internal/storage"
)

var (
	depsLanguage string
	depsRefresh  bool
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Manage runtime dependencies",
}

var depsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List packages installed in a runtime environment",
	RunE:  runDepsList,
}

var depsUpdateCmd = &cobra.Command{
	Use:   "update [package...]",
	Short: "Install packages and refresh the inventory",
	RunE:  runDepsUpdate,
}

func init() {
	rootCmd.AddCommand(depsCmd)
	depsCmd.AddCommand(depsListCmd, depsUpdateCmd)

	depsCmd.PersistentFlags().StringVarP(&depsLanguage, "language", "l", "python3", "Runtime (python3, nodejs)")
	depsListCmd.Flags().BoolVar(&depsRefresh, "refresh", false, "Bypass the cached snapshot")
}

func runDepsList(cmd *cobra.Command, args []string) error {
	m, closeStore, err := depsManager()
	if err != nil {
		return err
	}
	defer closeStore()

	snap, err := m.List(cmd.Context(), depsLanguage, depsRefresh)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func runDepsUpdate(cmd *cobra.Command, args []string) error {
	m, closeStore, err := depsManager()
	if err != nil {
		return err
	}
	defer closeStore()

	snap, err := m.Update(cmd.Context(), depsLanguage, args)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func depsManager() (*deps.Manager, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	m := deps.NewManager(cfg, store, newLogger())
	return m, func() { store.Close() }, nil
}

func printSnapshot(snap *storage.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION")
	for _, d := range snap.Dependencies {
		fmt.Fprintf(w, "%s\t%s\n", d.Name, d.Version)
	}
	w.Flush()
	fmt.Printf("\n%d packages (refreshed %s)\n", len(snap.Dependencies), snap.RefreshedAt.Local().Format("2006-01-02 15:04"))
}
