package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-bridge/tools"
)

func newOpsCmd() *cobra.Command {
	var names bool

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Print the operation catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if names {
				for _, op := range tools.Operations() {
					if _, err := fmt.Fprintln(out, op.Name); err != nil {
						return err
					}
				}
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tools.Operations())
		},
	}
	cmd.Flags().BoolVar(&names, "names", false, "print operation names only")
	return cmd
}
