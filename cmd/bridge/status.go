package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-bridge/core"
	"github.com/becomeliminal/nim-bridge/tools"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Build the bridge from config and print memory and worker status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := wire(c.cfg, c.logger)
			defer b.Close()

			report := make(map[string]interface{})
			for key, op := range map[string]string{
				"memory":    tools.OpMemoryStatus,
				"workers":   tools.OpWorkersStatus,
				"consensus": tools.OpConsensusInfo,
			} {
				resp := b.Handle(cmd.Context(), core.Request{Op: op})
				if !resp.OK {
					return fmt.Errorf("%s: %s", op, resp.Error.Message)
				}
				report[key] = resp.Result
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
