package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// hashCmd computes the TTH root of files without touching the share.
var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Compute the Tiger tree root of files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			st, err := f.Stat()
			if err != nil {
				f.Close()
				return err
			}

			tree := tth.NewTree(tth.BlockSizeFor(st.Size()))
			if _, err := tree.ReadFrom(f); err != nil {
				f.Close()
				return err
			}
			f.Close()
			tree.Finish()

			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", tree.Root(), path)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", tth.MagnetLink(tree.Root(), st.Size(), st.Name()))
		}
		return nil
	},
}
