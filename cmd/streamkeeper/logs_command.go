package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"streamkeeper/internal/ipc"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [stream]",
		Short: "Show the daemon log, or a stream's encoder log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.LogTailRequest{Offset: -1, Limit: lines}
			if len(args) == 1 {
				req.Stream = args[0]
			}
			out := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				for {
					resp, err := client.LogTail(req)
					if err != nil {
						return err
					}
					for _, line := range resp.Lines {
						fmt.Fprintln(out, line)
					}
					if !follow {
						return nil
					}
					select {
					case <-cmd.Context().Done():
						return nil
					default:
					}
					req = ipc.LogTailRequest{Stream: req.Stream, Offset: resp.Offset, Follow: true, WaitMillis: 2000}
				}
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	return cmd
}
