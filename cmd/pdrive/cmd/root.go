package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/TraceLTRC/pdrive-cli/cmd/pdrive/config"
	"github.com/TraceLTRC/pdrive-cli/dao"
	"github.com/TraceLTRC/pdrive-cli/dao/cache"
	"github.com/TraceLTRC/pdrive-cli/db"
	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/progress"
	"github.com/TraceLTRC/pdrive-cli/transport"
	"github.com/TraceLTRC/pdrive-cli/transport/s3"
	"github.com/TraceLTRC/pdrive-cli/transport/worker"
	"github.com/TraceLTRC/pdrive-cli/uploader"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var cmds []CreateFunc

type Context struct {
	ConfigFile string
	Quiet      bool
	Config     *config.Config
	Transport  transport.ITransport
	Store      uploader.ISessionStore
	// Out receives results and progress, the command output by default.
	Out io.Writer

	db io.Closer
}

type CreateFunc func(ctx *Context) *cobra.Command

func register(cr CreateFunc) {
	cmds = append(cmds, cr)
}

func buildTransport(ctx context.Context, c *config.Config) (transport.ITransport, error) {
	var impl transport.ITransport
	switch c.Protocol {
	case config.ProtocolWorker:
		impl = worker.New(worker.WithTimeout(c.TimeoutValue))
	default:
		var err error
		impl, err = s3.New(ctx, s3.WithRegion(c.Region), s3.WithTimeout(c.TimeoutValue), s3.WithChecksumSHA256(c.ChecksumSHA256))
		if err != nil {
			return nil, errs.Wrap(errs.KindConfig, "build_transport", err)
		}
	}
	return transport.WithRetry(impl, transport.Backoff{
		BaseDelay:  c.BaseDelayValue,
		MaxDelay:   c.MaxDelayValue,
		MaxRetries: c.Retry.MaxRetries,
	}), nil
}

func initContext(ctx context.Context, c *Context) error {
	cfg, file, err := config.Load(c.ConfigFile)
	if err != nil {
		return err
	}
	c.Config = cfg
	logger.Init(cfg.LogFile, cfg.LogLevel, 0, 0, 0, len(cfg.LogFile) == 0)
	logutil.GetLogger(ctx).Debug("load config succ", zap.String("file", file), zap.String("protocol", cfg.Protocol),
		zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
	tr, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	c.Transport = tr
	dbc, err := db.Open(cfg.SessionDB)
	if err != nil {
		return errs.Wrap(errs.KindIO, "open_session_db", err)
	}
	c.db = dbc
	c.Store = uploader.NewSessionStore(cache.NewSessionDao(dao.NewSessionDao(dbc)))
	return nil
}

// Close releases the session database.
func (c *Context) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Target builds the upload target from the config, the token stays in memory only.
func (c *Context) Target(key string) *entity.UploadTarget {
	return &entity.UploadTarget{
		Endpoint:  c.Config.Endpoint,
		Token:     c.Config.Token,
		Bucket:    c.Config.Bucket,
		ObjectKey: key,
	}
}

// NewUploader returns an uploader wired to the config and a func that flushes
// pending progress output, call it before printing the result.
func (c *Context) NewUploader(ctx context.Context, opts ...uploader.Option) (*uploader.Uploader, func()) {
	var rep progress.IReporter = progress.NewLogReporter(logutil.GetLogger(ctx))
	closer := func() {}
	if !c.Quiet {
		async := progress.NewAsyncReporter(progress.NewConsoleReporter(c.Out), 0)
		rep = progress.Multi(rep, async)
		closer = async.Close
	}
	base := []uploader.Option{
		uploader.WithConcurrency(c.Config.Concurrency),
		uploader.WithPartSize(c.Config.PartSizeBytes),
		uploader.WithMinPartSizeFloor(c.Config.FloorBytes),
		uploader.WithMaxPartCount(c.Config.MaxPartCount),
		uploader.WithAutoPartSize(true),
		uploader.WithPartRetries(c.Config.PartRetries),
		uploader.WithReporter(rep),
	}
	return uploader.New(c.Transport, c.Store, append(base, opts...)...), closer
}

func NewRoot() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *Context) {
	ctx := &Context{Out: os.Stdout}
	var rootCmd = &cobra.Command{
		Use:           "pdrive",
		Short:         "Upload files to an s3 compatible bucket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	for _, cr := range cmds {
		rootCmd.AddCommand(cr(ctx))
	}
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		ctx.Out = cmd.OutOrStdout()
		return initContext(cmd.Context(), ctx)
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "config file, default $"+config.EnvConfigFile+" or the user config dir")
	rootCmd.PersistentFlags().BoolVarP(&ctx.Quiet, "quiet", "q", false, "no progress output")
	return rootCmd, ctx
}

// Execute runs the cli and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root, c := newRoot()
	err := root.ExecuteContext(ctx)
	if cerr := c.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "pdrive: close session db: %v\n", cerr)
	}
	if err == nil {
		return ExitCompleted
	}
	if !isReported(err) {
		fmt.Fprintf(os.Stderr, "pdrive: %v\n", err)
	}
	return exitCode(err)
}
