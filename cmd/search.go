package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anything-indexer/anything/internal/catalogue"
	"github.com/anything-indexer/anything/internal/config"
	"github.com/anything-indexer/anything/internal/dbpool"
)

var (
	searchUID   string
	searchField string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Run a substring search against a user's catalogue",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchUID, "uid", "", "user identifier (required)")
	searchCmd.Flags().StringVar(&searchField, "field", "file_name", "field to match: file_name, file_path, file_extension, mime_type, parent_directory")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "maximum results (0 = unbounded)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchUID == "" {
		return fmt.Errorf("--uid is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cat, err := catalogue.Open(dbpool.Default(), cfg.UserDBPath(searchUID))
	if err != nil {
		return err
	}
	defer cat.Close()

	entries, err := cat.Search(args[0], searchField, searchLimit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\n", e.FilePath, e.MimeType, e.ModifiedTime)
	}
	return nil
}
