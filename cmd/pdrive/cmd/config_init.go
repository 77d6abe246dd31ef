package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/TraceLTRC/pdrive-cli/cmd/pdrive/config"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/utils"

	"github.com/spf13/cobra"
)

type configInitArgs struct {
	format   string
	force    bool
	endpoint string
	token    string
	bucket   string
	protocol string
}

func NewConfigCmd(c *Context) *cobra.Command {
	subc := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
		// config commands must work before a valid config exists
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	subc.AddCommand(newConfigInitCmd(c))
	return subc
}

func newConfigInitCmd(c *Context) *cobra.Command {
	args := &configInitArgs{}
	subc := &cobra.Command{
		Use:   "init",
		Short: "Write a config file template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dst, err := onRunConfigInit(c, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", dst)
			return nil
		},
	}
	subc.Flags().StringVar(&args.format, "format", "json", "file format, json/yaml/toml")
	subc.Flags().BoolVar(&args.force, "force", false, "overwrite an existing file")
	subc.Flags().StringVar(&args.endpoint, "endpoint", "https://", "endpoint url")
	subc.Flags().StringVar(&args.token, "token", "", "bearer token")
	subc.Flags().StringVar(&args.bucket, "bucket", "", "bucket name")
	subc.Flags().StringVar(&args.protocol, "protocol", config.ProtocolS3, "s3 or worker")
	return subc
}

func onRunConfigInit(c *Context, args *configInitArgs) (string, error) {
	if len(c.ConfigFile) > 0 {
		args.format = config.FormatOf(c.ConfigFile)
	}
	ext := args.format
	switch args.format {
	case "json", "toml":
	case "yaml", "yml":
		args.format, ext = "yaml", "yaml"
	default:
		return "", errs.New(errs.KindConfig, "config_init", "unknown format:%s", args.format)
	}
	dst := c.ConfigFile
	if len(dst) == 0 {
		dir, err := config.Dir()
		if err != nil {
			return "", err
		}
		dst = filepath.Join(dir, "config."+ext)
	}
	if utils.FileExists(dst) && !args.force {
		return "", errs.New(errs.KindConfig, "config_init", "%s already exists, use --force to overwrite", dst)
	}
	cfg := config.Default()
	cfg.Endpoint = args.endpoint
	cfg.Token = args.token
	cfg.Bucket = args.bucket
	cfg.Protocol = args.protocol
	raw, err := config.Encode(cfg, args.format)
	if err != nil {
		return "", errs.Wrap(errs.KindConfig, "config_init", err)
	}
	// the file holds the token
	if err := utils.SafeSaveIOToFile(dst, bytes.NewReader(raw), 0600); err != nil {
		return "", errs.Wrap(errs.KindIO, "config_init", err)
	}
	return dst, nil
}

func init() {
	register(NewConfigCmd)
}
