package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anything-indexer/anything/internal/config"
	"github.com/anything-indexer/anything/internal/dbpool"
	"github.com/anything-indexer/anything/internal/registry"
	"github.com/anything-indexer/anything/internal/scantarget"
)

var scanTargetCmd = &cobra.Command{
	Use:     "scan-target",
	Aliases: []string{"scan-targets"},
	Short:   "Manage a user's scan targets",
}

var (
	scanTargetUID         string
	scanTargetDescription string
)

var scanTargetAddCmd = &cobra.Command{
	Use:   "add <directory>",
	Short: "Add a directory to a user's scan targets and start scanning it",
	Args:  cobra.ExactArgs(1),
	RunE:  runScanTargetAdd,
}

var scanTargetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's scan targets",
	Args:  cobra.NoArgs,
	RunE:  runScanTargetList,
}

var scanTargetRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Stop and remove a scan target by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runScanTargetRemove,
}

func init() {
	scanTargetCmd.PersistentFlags().StringVar(&scanTargetUID, "uid", "", "user identifier (required)")
	scanTargetAddCmd.Flags().StringVar(&scanTargetDescription, "description", "", "free-text description")

	scanTargetCmd.AddCommand(scanTargetAddCmd, scanTargetListCmd, scanTargetRemoveCmd)
	rootCmd.AddCommand(scanTargetCmd)
}

func requireUID() error {
	if scanTargetUID == "" {
		return fmt.Errorf("--uid is required")
	}
	return nil
}

func runScanTargetAdd(cmd *cobra.Command, args []string) error {
	if err := requireUID(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reg := registry.New(dbpool.Default(), registry.Options{
		ExcludedPatterns: cfg.ExcludedPatterns,
		UseLocalWatcher:  cfg.UseLocalWatcher,
	})
	defer reg.Close()

	target, err := reg.AddTarget(cfg.UserDBPath(scanTargetUID), args[0], scanTargetDescription)
	if err != nil {
		return err
	}
	fmt.Printf("added scan target %d: %s\n", target.ID, target.DirectoryPath)
	return nil
}

func runScanTargetList(cmd *cobra.Command, args []string) error {
	if err := requireUID(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	targets, err := listScanTargets(cfg.UserDBPath(scanTargetUID))
	if err != nil {
		return err
	}
	for _, t := range targets {
		fmt.Printf("%d\t%s\tactive=%v\tlast_scan=%s\n", t.ID, t.DirectoryPath, t.IsActive, t.LastSuccessfulScanTime)
	}
	return nil
}

func listScanTargets(dbPath string) ([]*scantarget.Target, error) {
	store, err := scantarget.Open(dbpool.Default(), dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(false)
}

func runScanTargetRemove(cmd *cobra.Command, args []string) error {
	if err := requireUID(); err != nil {
		return err
	}
	var id int64
	if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
		return fmt.Errorf("invalid scan target id %q", args[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reg := registry.New(dbpool.Default(), registry.Options{
		ExcludedPatterns: cfg.ExcludedPatterns,
		UseLocalWatcher:  cfg.UseLocalWatcher,
	})
	defer reg.Close()

	if err := reg.RemoveTarget(cfg.UserDBPath(scanTargetUID), id); err != nil {
		return err
	}
	fmt.Printf("removed scan target %d\n", id)
	return nil
}
