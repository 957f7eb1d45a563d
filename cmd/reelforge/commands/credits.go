package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/errors"
	"github.com/reelforge/reelforge/ledger"
)

// CreditsCmd groups credit ledger subcommands.
var CreditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage user credit balances",
	Long: `Manage user credit balances.

Examples:
  reelforge credits balance --user u1
  reelforge credits grant --user u1 --amount 100 --key stripe-evt-123
  reelforge credits adjust --user u1 --amount -20 --note "support refund reversal"`,
}

var (
	creditsUserFlag   string
	creditsAmountFlag int64
	creditsKeyFlag    string
	creditsNoteFlag   string
)

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show a user's credit balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		balance, err := ledger.NewStore(database).Balance(creditsUserFlag)
		if err != nil {
			return err
		}
		fmt.Printf("%d\n", balance)
		return nil
	},
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Record a credit purchase",
	Long: `Record a credit purchase for a user.

Pass --key with the payment provider's event ID so redelivered webhooks
record the purchase at most once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		entryID, err := ledger.NewStore(database).Purchase(creditsUserFlag, creditsAmountFlag, creditsKeyFlag, creditsNoteFlag)
		if err != nil {
			if errors.Is(err, errors.ErrConflict) {
				fmt.Printf("Purchase already recorded for key %s\n", creditsKeyFlag)
				return nil
			}
			return err
		}
		fmt.Printf("Purchase recorded: %s\n", entryID)
		return nil
	},
}

var creditsAdjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Record a manual balance adjustment",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		entryID, err := ledger.NewStore(database).AdminAdjust(creditsUserFlag, creditsAmountFlag, creditsNoteFlag)
		if err != nil {
			return err
		}
		fmt.Printf("Adjustment recorded: %s\n", entryID)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{creditsBalanceCmd, creditsGrantCmd, creditsAdjustCmd} {
		cmd.Flags().StringVar(&creditsUserFlag, "user", "", "User ID (required)")
		cmd.MarkFlagRequired("user")
	}
	for _, cmd := range []*cobra.Command{creditsGrantCmd, creditsAdjustCmd} {
		cmd.Flags().Int64Var(&creditsAmountFlag, "amount", 0, "Credit amount (required)")
		cmd.Flags().StringVar(&creditsNoteFlag, "note", "", "Note recorded on the entry")
		cmd.MarkFlagRequired("amount")
	}
	creditsGrantCmd.Flags().StringVar(&creditsKeyFlag, "key", "", "Idempotency key (payment event ID)")

	CreditsCmd.AddCommand(creditsBalanceCmd)
	CreditsCmd.AddCommand(creditsGrantCmd)
	CreditsCmd.AddCommand(creditsAdjustCmd)
}
