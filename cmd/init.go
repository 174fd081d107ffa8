package cmd

import (
	"fmt"
	"log"

	"github.com/juliuskreutz/chive-master/chivemaster"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and run schema migrations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.Database == "" {
			log.Fatal("database path not set (set CM_DATABASE or 'database')")
		}

		if _, err := chivemaster.CreateDB(ctx, cfg.Database, nil); err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		fmt.Fprintln(
			cmd.OutOrStdout(),
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
