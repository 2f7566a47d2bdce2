package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeJamon/go-shamap/internal/shamap"
	"github.com/LeJamon/go-shamap/internal/storage/nodestore"
)

var verifyQuiet bool

// verifyCmd re-derives every record in the store from its bytes and checks
// it against its key.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify that every stored record deserializes and hashes to its key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Store.CreateIfMissing = false
		db, err := nodestore.Open(&cfg.Store)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer db.Close()

		var total, bad int
		err = db.Backend().ForEach(func(node *nodestore.Node) error {
			total++
			hash := [32]byte(node.Hash)
			if _, derr := shamap.DeserializeNode(node.Data, shamap.FormatPrefix, &hash, nil); derr != nil {
				bad++
				if !verifyQuiet {
					fmt.Printf("bad record %x: %v\n", node.Hash[:8], derr)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		fmt.Printf("verified %d records, %d bad\n", total, bad)
		if bad > 0 {
			return fmt.Errorf("%d corrupt records", bad)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVarP(&verifyQuiet, "quiet", "q", false, "suppress per-record output")
	rootCmd.AddCommand(verifyCmd)
}
