package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/spf13/cobra"
)

func (a *app) protocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List available protocol definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTEPS\tCOLUMNS\tTITLE")
			for _, def := range reg.List() {
				maxColumns := def.MaxColumns
				if maxColumns == 0 {
					maxColumns = labware.MaxSampleColumns
				}
				fmt.Fprintf(tw, "%s\t%d\t1-%d\t%s\n", def.ID, len(def.Steps), maxColumns, def.Title)
			}
			return tw.Flush()
		},
	}
}
