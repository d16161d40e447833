package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// rootCmd is the offline maintenance tool for the project and user data files.
var rootCmd = &cobra.Command{
	Use:   "charmap",
	Short: "character map data tool",
	Example: `charmap merge --project cr_data.json --user user_data.json -o merged.json
charmap export characters --project cr_data.json --user user_data.json
charmap import characters backup.json --user user_data.json
charmap dedupe --user user_data.json --map id_map.json
charmap seed -o cr_data.json
charmap thumbnails --user user_data.json --public public`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("project", "cr_data.json", "project dataset file")
	rootCmd.PersistentFlags().String("user", "user_data.json", "user data file")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level")

	rootCmd.AddCommand(mergeCmd(), exportCmd(), importCmd(), dedupeCmd(), seedCmd(), thumbnailsCmd())
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}
