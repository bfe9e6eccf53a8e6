package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/driftbox/pkg/dkey"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run change-log snapshot compaction for one (account, collection)",
	Long: `compact replaces every change-log entry up to --up-to with one
snapshot record, replicated through Raft so every follower prunes the
same entries rather than re-deriving the still-relevant id set on its
own.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, coll, err := acctCollFlags(cmd)
		if err != nil {
			return err
		}
		upTo, _ := cmd.Flags().GetUint64("up-to")

		store, err := openStore(cmd)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		if err := store.Compact(acct, coll, dkey.ChangeId(upTo)); err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		fmt.Printf("compacted account=%d collection=%d up_to=%d\n", acct, coll, upTo)
		return nil
	},
}

func init() {
	compactCmd.Flags().Uint32("account", 0, "Account id")
	compactCmd.Flags().Uint8("collection", 0, "Collection id")
	compactCmd.Flags().Uint64("up-to", 0, "Compact every change id up to and including this one")
	_ = compactCmd.MarkFlagRequired("account")
	_ = compactCmd.MarkFlagRequired("up-to")
}
