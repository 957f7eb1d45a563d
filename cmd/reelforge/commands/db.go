package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pipeline"
)

// DbCmd groups database maintenance subcommands.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
	Long: `Database maintenance operations.

Examples:
  reelforge db migrate                 # Apply pending schema migrations
  reelforge db cleanup --older-than 720h  # Delete terminal jobs older than 30 days`,
}

var cleanupOlderThanFlag time.Duration

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Println("Database schema is up to date")
		return nil
	},
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal jobs and their checkpoints",
	Long: `Delete ready and dead-lettered jobs finished before the cutoff.
Their checkpoints are removed with them. Ledger entries are never deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		deleted, err := pipeline.NewStore(database).CleanupOld(cleanupOlderThanFlag)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d terminal jobs older than %s\n", deleted, cleanupOlderThanFlag)
		return nil
	},
}

func init() {
	dbCleanupCmd.Flags().DurationVar(&cleanupOlderThanFlag, "older-than", 30*24*time.Hour, "Delete terminal jobs finished before now minus this duration")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbCleanupCmd)
}
