package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run the tombstone purge pass for one (account, collection)",
	Long: `purge physically removes every document tombstoned since the
last pass: its Values, Indexes, and blob links are dropped and its
document id is freed for reuse. Unlike document writes, a purge pass
does not go through Raft — every replica runs it independently over
identical tombstoned state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, coll, err := acctCollFlags(cmd)
		if err != nil {
			return err
		}

		store, err := openStore(cmd)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		result, err := store.PurgeTombstones(acct, coll)
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		fmt.Printf("purged=%d account=%d collection=%d\n", result.Purged, acct, coll)
		return nil
	},
}

func init() {
	purgeCmd.Flags().Uint32("account", 0, "Account id")
	purgeCmd.Flags().Uint8("collection", 0, "Collection id")
	_ = purgeCmd.MarkFlagRequired("account")
}
