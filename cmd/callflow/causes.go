package main

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sweeney/asterisk-callflow/internal/cause"
)

func newCausesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "causes",
		Short: "List the hangup cause codes and the reasons reported for them",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printCauses(cmd.OutOrStdout())
		},
	}
}

func printCauses(out io.Writer) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Code", "Reason", "Description"})
	table.SetBorder(true)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, info := range cause.All() {
		table.Append([]string{strconv.Itoa(info.Code), info.Reason, info.Description})
	}
	table.Append([]string{"other", cause.Unspecified, cause.Describe(-1)})
	table.Render()
}
