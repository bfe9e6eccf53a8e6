package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/driftbox/pkg/changelog"
	"github.com/cuemby/driftbox/pkg/dkey"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Dump the change log for one (account, collection)",
	Long: `changes reads every change-log record for an account and
collection and prints it in ascending change-id order, including
compaction snapshots. Useful for tracing exactly what a given state
cursor range would return without driving a full GetChanges call.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, coll, err := acctCollFlags(cmd)
		if err != nil {
			return err
		}
		since, _ := cmd.Flags().GetUint64("since")

		store, err := openStore(cmd)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		q := changelog.Query{Kind: changelog.All}
		if since > 0 {
			q = changelog.Query{Kind: changelog.Since, From: dkey.ChangeId(since)}
		}
		records, err := store.Changelog().Read(acct, coll, q)
		if err != nil {
			return fmt.Errorf("read change log: %w", err)
		}

		for _, r := range records {
			if r.IsSnapshot {
				fmt.Printf("change=%d snapshot retained=%d\n", r.ChangeId, r.Snapshot.GetCardinality())
				continue
			}
			fmt.Printf("change=%d inserted=%v updated=%v child_updated=%v deleted=%v\n",
				r.ChangeId, r.Entry.Inserted, r.Entry.Updated, r.Entry.ChildUpdated, r.Entry.Deleted)
		}
		fmt.Printf("%d record(s)\n", len(records))
		return nil
	},
}

func init() {
	changesCmd.Flags().Uint32("account", 0, "Account id")
	changesCmd.Flags().Uint8("collection", 0, "Collection id (0=Mail,1=Mailbox,2=Principal,3=PushSubscription,4=SieveScript,5=EmailSubmission,6=Thread)")
	changesCmd.Flags().Uint64("since", 0, "Only print records after this change id (0 = from the beginning)")
	_ = changesCmd.MarkFlagRequired("account")
}

func acctCollFlags(cmd *cobra.Command) (dkey.AccountId, dkey.Collection, error) {
	acct, err := cmd.Flags().GetUint32("account")
	if err != nil {
		return 0, 0, err
	}
	coll, err := cmd.Flags().GetUint8("collection")
	if err != nil {
		return 0, 0, err
	}
	return dkey.AccountId(acct), dkey.Collection(coll), nil
}
