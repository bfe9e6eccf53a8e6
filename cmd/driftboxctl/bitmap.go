package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/driftbox/pkg/bitmap"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
)

var bitmapCmd = &cobra.Command{
	Use:   "bitmap",
	Short: "Dump a whole-collection bitmap (used ids or tombstoned ids)",
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, coll, err := acctCollFlags(cmd)
		if err != nil {
			return err
		}
		kind, _ := cmd.Flags().GetString("kind")

		var bitmapKind dkey.CollectionBitmapKind
		switch kind {
		case "used":
			bitmapKind = dkey.BitmapUsedIds
		case "tombstoned":
			bitmapKind = dkey.BitmapTombstoned
		default:
			return fmt.Errorf("bitmap: unknown --kind %q, want used|tombstoned", kind)
		}

		store, err := openStore(cmd)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		raw, err := store.KV().Get(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, bitmapKind))
		if err != nil {
			return fmt.Errorf("read bitmap: %w", err)
		}
		bm, ok, err := bitmap.GetBitmap(raw)
		if err != nil {
			return fmt.Errorf("decode bitmap: %w", err)
		}
		if !ok {
			fmt.Println("bitmap absent (empty)")
			return nil
		}
		fmt.Printf("cardinality=%d ids=%v\n", bm.GetCardinality(), bm.ToArray())
		return nil
	},
}

func init() {
	bitmapCmd.Flags().Uint32("account", 0, "Account id")
	bitmapCmd.Flags().Uint8("collection", 0, "Collection id")
	bitmapCmd.Flags().String("kind", "used", "Which whole-collection bitmap to dump: used|tombstoned")
	_ = bitmapCmd.MarkFlagRequired("account")
}
