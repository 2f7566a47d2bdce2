package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statsCmd prints the store's performance statistics.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print node store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFamily()
		if err != nil {
			return err
		}
		defer f.Close()

		fmt.Println(f.Stats())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
