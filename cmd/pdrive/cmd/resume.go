package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

type resumeArgs struct {
	concurrency int
}

func NewResumeCmd(c *Context) *cobra.Command {
	args := &resumeArgs{}
	subc := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Continue an interrupted upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, params []string) error {
			return runResume(cmd.Context(), c, params[0], args.concurrency)
		},
	}
	subc.Flags().IntVarP(&args.concurrency, "concurrency", "n", 0, "parallel part uploads, default from config")
	return subc
}

func runResume(ctx context.Context, c *Context, sid string, concurrency int) error {
	opts, err := uploaderOptions(concurrency)
	if err != nil {
		return err
	}
	up, flush := c.NewUploader(ctx, opts...)
	out, err := up.ResumeUpload(ctx, sid, c.Config.Token)
	flush()
	return reportOutcome(c.Out, out, err)
}

func init() {
	register(NewResumeCmd)
}
