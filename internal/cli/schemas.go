package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSchemasCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List schemas available in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.build()
			if err != nil {
				return err
			}

			infos := a.schemas.List()
			if len(infos) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No schemas in %s\n", a.schemas.Dir())
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPATH\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.Path, info.Description)
			}
			return tw.Flush()
		},
	}
}
