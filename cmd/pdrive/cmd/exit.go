package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"

	"github.com/dustin/go-humanize"
)

const (
	ExitCompleted   = 0
	ExitFailed      = 1
	ExitAborted     = 2
	ExitConfigError = 3
)

// outcomeError carries an exit code for an outcome already printed to the user.
type outcomeError struct {
	code int
	err  error
}

func (e *outcomeError) Error() string {
	return e.err.Error()
}

func (e *outcomeError) Unwrap() error {
	return e.err
}

func isReported(err error) bool {
	var oe *outcomeError
	return errors.As(err, &oe)
}

func exitCode(err error) int {
	var oe *outcomeError
	if errors.As(err, &oe) {
		return oe.code
	}
	switch errs.KindOf(err) {
	case errs.KindConfig:
		return ExitConfigError
	case errs.KindCanceled:
		return ExitAborted
	}
	return ExitFailed
}

// reportOutcome prints the terminal state of an upload and turns it into the
// command result.
func reportOutcome(w io.Writer, out *entity.UploadOutcome, err error) error {
	if out == nil {
		return err
	}
	switch out.State {
	case entity.SessionStateCompleted:
		fmt.Fprintf(w, "Completed\n")
		if out.Object != nil {
			fmt.Fprintf(w, "  object:   %s/%s\n", out.Object.Bucket, out.Object.Key)
			fmt.Fprintf(w, "  size:     %s\n", humanize.IBytes(uint64(out.Object.Size)))
			fmt.Fprintf(w, "  etag:     %s\n", out.Object.ETag)
			if len(out.Object.Location) > 0 {
				fmt.Fprintf(w, "  location: %s\n", out.Object.Location)
			}
		}
		fmt.Fprintf(w, "  digest:   %s\n", out.Digest)
		if len(out.FileSHA256) > 0 {
			fmt.Fprintf(w, "  sha256:   %s\n", out.FileSHA256)
		}
		fmt.Fprintf(w, "  session:  %s\n", out.SessionID)
		return nil
	case entity.SessionStateAborted:
		fmt.Fprintf(w, "Aborted\n  session:  %s\n", out.SessionID)
		if err == nil {
			err = fmt.Errorf("upload aborted")
		}
		return &outcomeError{code: ExitAborted, err: err}
	}
	fmt.Fprintf(w, "Failed\n  error:    %s\n  session:  %s\n", out.ErrKind, out.SessionID)
	if err != nil {
		fmt.Fprintf(w, "  detail:   %v\n", err)
	}
	if out.Resumable {
		fmt.Fprintf(w, "  resume with `pdrive resume %s`, or drop it with `pdrive abort %s`\n", out.SessionID, out.SessionID)
	}
	if err == nil {
		err = fmt.Errorf("upload failed")
	}
	return &outcomeError{code: ExitFailed, err: err}
}
