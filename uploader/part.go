package uploader

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/hasher"
	"github.com/TraceLTRC/pdrive-cli/progress"

	"github.com/dustin/go-humanize"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type sendFunc func(ctx context.Context, body []byte, digest entity.PartDigest) error

// sendChunk reads and digests chunk, then hands it to send. Integrity
// failures re-read the chunk and resend it, up to PartRetries times.
func (u *Uploader) sendChunk(ctx context.Context, sess *entity.UploadSession, r io.ReaderAt, chunk entity.Chunk, send sendFunc) error {
	var buf []byte
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, digest, err := hasher.ReadChunk(r, chunk, buf)
		if err != nil {
			return err
		}
		buf = body
		ev := u.event(sess, progress.EventPartStarted)
		ev.Index = chunk.Index
		ev.Attempt = attempt
		u.c.Reporter.OnEvent(ev)
		err = send(ctx, body, digest.ToPartDigest())
		if err == nil {
			return nil
		}
		if !errs.Is(err, errs.KindIntegrity) || attempt > u.c.PartRetries {
			return err
		}
		logutil.GetLogger(ctx).Warn("part integrity check failed, resend", zap.String("session_id", sess.SessionID),
			zap.Int("index", chunk.Index), zap.Int("attempt", attempt), zap.Error(err))
	}
}

// partCollector is the only writer of CompletedParts while parts are in flight.
type partCollector struct {
	mu       sync.Mutex
	u        *Uploader
	sess     *entity.UploadSession
	uploaded int64
}

func (p *partCollector) add(ctx context.Context, part entity.PartResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	// a part the server accepted is worth keeping even if a sibling just failed
	if err := p.u.store.SavePart(context.WithoutCancel(ctx), p.sess.SessionID, part); err != nil {
		return errs.Wrap(errs.KindIO, "save_part", err)
	}
	p.sess.CompletedParts[part.Index] = part
	p.uploaded += part.Size
	ev := p.u.event(p.sess, progress.EventPartCompleted)
	ev.Index = part.Index
	ev.Uploaded = p.uploaded
	p.u.c.Reporter.OnEvent(ev)
	return nil
}

func (u *Uploader) uploadParts(ctx context.Context, sess *entity.UploadSession) error {
	f, err := os.Open(sess.FilePath)
	if err != nil {
		return errs.Wrap(errs.KindIO, "open_file", err)
	}
	defer f.Close()
	pending := sess.PendingChunks()
	coll := &partCollector{u: u, sess: sess, uploaded: sess.UploadedBytes()}
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sess.SessionID))
	logger.Debug("start upload parts", zap.Int("pending", len(pending)), zap.Int("part_count", sess.Plan.Count()),
		zap.Int("concurrency", u.c.Concurrency))
	eg, subctx := errgroup.WithContext(ctx)
	eg.SetLimit(u.c.Concurrency)
	for _, chunk := range pending {
		eg.Go(func() error {
			start := time.Now()
			err := u.sendChunk(subctx, sess, f, chunk, func(ctx context.Context, body []byte, digest entity.PartDigest) error {
				rs, err := u.tr.UploadPart(ctx, sess.RemoteTarget(), sess.UploadID, chunk.Index, body, digest)
				if err != nil {
					return err
				}
				return coll.add(ctx, *rs)
			})
			if err != nil {
				return err
			}
			cost := time.Since(start)
			speed := "-"
			if cost > 0 {
				speed = humanize.IBytes(uint64(float64(chunk.Length)/cost.Seconds())) + "/s"
			}
			logger.Debug("part upload finish", zap.Int("index", chunk.Index), zap.Duration("cost", cost), zap.String("speed", speed))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if len(sess.CompletedParts) != sess.Plan.Count() {
		return errs.New(errs.KindInconsistentState, "upload_parts", "recorded parts:%d, planned:%d", len(sess.CompletedParts), sess.Plan.Count())
	}
	return nil
}
