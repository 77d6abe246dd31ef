package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type sessionsArgs struct {
	prune  bool
	states []string
}

func parseStates(vs []string) ([]entity.SessionState, error) {
	rs := make([]entity.SessionState, 0, len(vs))
	for _, v := range vs {
		st, ok := entity.ParseSessionState(v)
		if !ok {
			return nil, errs.New(errs.KindConfig, "list_sessions", "unknown state:%s", v)
		}
		rs = append(rs, st)
	}
	return rs, nil
}

func NewSessionsCmd(c *Context) *cobra.Command {
	args := &sessionsArgs{}
	subc := &cobra.Command{
		Use:   "sessions",
		Short: "List upload sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			up, flush := c.NewUploader(cmd.Context())
			defer flush()
			if args.prune {
				cnt, err := up.PruneSessions(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d finished sessions removed\n", cnt)
				return nil
			}
			states, err := parseStates(args.states)
			if err != nil {
				return err
			}
			list, err := up.ListSessions(cmd.Context(), states...)
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), list)
			return nil
		},
	}
	subc.Flags().BoolVar(&args.prune, "prune", false, "remove the records of finished sessions")
	subc.Flags().StringSliceVar(&args.states, "state", nil, "only list sessions in these states, e.g. InProgress,Completed")
	return subc
}

func printSessions(w io.Writer, list []*entity.UploadSession) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no sessions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATE\tSIZE\tPARTS\tOBJECT\tFILE\tUPDATED\tLAST ERROR")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s/%s\t%s\t%s\t%s\n", s.SessionID, s.State, humanize.IBytes(uint64(s.Plan.FileSize)),
			s.Plan.Count(), s.Target.Bucket, s.Target.ObjectKey, s.FilePath, humanize.Time(time.UnixMilli(s.Mtime)), s.LastError)
	}
	_ = tw.Flush()
}

func init() {
	register(NewSessionsCmd)
}
