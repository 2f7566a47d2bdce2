package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeJamon/go-shamap/internal/shamap"
)

var (
	missingMax   int
	missingIsTxn bool
)

// missingCmd reports the nodes a tree version still needs, starting from
// its root hash.
var missingCmd = &cobra.Command{
	Use:   "missing <root-hash>",
	Short: "List the nodes a tree rooted at the given hash is missing from the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rootBytes, err := hex.DecodeString(args[0])
		if err != nil || len(rootBytes) != 32 {
			return fmt.Errorf("root hash must be 64 hex characters")
		}
		var rootHash [32]byte
		copy(rootHash[:], rootBytes)

		f, ferr := openFamily()
		if ferr != nil {
			return ferr
		}
		defer f.Close()

		mapType := shamap.TypeState
		if missingIsTxn {
			mapType = shamap.TypeTransaction
		}

		sm := shamap.NewSynching(mapType, rootHash, f)
		if !sm.FetchRoot(rootHash, nil) {
			fmt.Printf("%s  (root)\n", args[0])
			return nil
		}

		missing := sm.GetMissingNodes(missingMax, nil)
		for _, m := range missing {
			fmt.Printf("%x  %v\n", m.Hash, m.ID)
		}
		if len(missing) == 0 {
			fmt.Println("tree is complete")
		}
		return nil
	},
}

func init() {
	missingCmd.Flags().IntVar(&missingMax, "max", 0, "maximum nodes to report (0 = unlimited)")
	missingCmd.Flags().BoolVar(&missingIsTxn, "txn", false, "treat the tree as a transaction tree")
	rootCmd.AddCommand(missingCmd)
}
