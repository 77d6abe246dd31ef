package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewAbortCmd(c *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "abort <session-id>",
		Short: "Abort an interrupted upload and drop its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, params []string) error {
			up, flush := c.NewUploader(cmd.Context())
			defer flush()
			if err := up.AbortSession(cmd.Context(), params[0], c.Config.Token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s aborted\n", params[0])
			return nil
		},
	}
}

func init() {
	register(NewAbortCmd)
}
