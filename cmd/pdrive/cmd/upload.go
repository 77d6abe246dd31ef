package cmd

import (
	"context"
	"fmt"

	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/uploader"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type uploadArgs struct {
	key         string
	resume      string
	concurrency int
}

func NewUploadCmd(c *Context) *cobra.Command {
	args := &uploadArgs{}
	subc := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file, or continue an interrupted upload with --resume",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, params []string) error {
			file := ""
			if len(params) > 0 {
				file = params[0]
			}
			return onRunUpload(cmd.Context(), c, args, file)
		},
	}
	subc.Flags().StringVarP(&args.key, "key", "k", "", "object key, default the file name")
	subc.Flags().StringVarP(&args.resume, "resume", "r", "", "session id to resume")
	subc.Flags().IntVarP(&args.concurrency, "concurrency", "n", 0, "parallel part uploads, default from config")
	return subc
}

func uploaderOptions(concurrency int) ([]uploader.Option, error) {
	if concurrency < 0 {
		return nil, errs.New(errs.KindConfig, "parse_flags", "invalid concurrency:%d", concurrency)
	}
	var opts []uploader.Option
	if concurrency > 0 {
		opts = append(opts, uploader.WithConcurrency(concurrency))
	}
	return opts, nil
}

func onRunUpload(ctx context.Context, c *Context, args *uploadArgs, file string) error {
	if len(args.resume) > 0 {
		if len(file) > 0 {
			logutil.GetLogger(ctx).Warn("file argument is ignored when resuming, the session file is used", zap.String("file", file))
		}
		return runResume(ctx, c, args.resume, args.concurrency)
	}
	if len(file) == 0 {
		return fmt.Errorf("no upload file found")
	}
	opts, err := uploaderOptions(args.concurrency)
	if err != nil {
		return err
	}
	up, flush := c.NewUploader(ctx, opts...)
	out, err := up.StartUpload(ctx, file, c.Target(args.key))
	flush()
	return reportOutcome(c.Out, out, err)
}

func init() {
	register(NewUploadCmd)
}
