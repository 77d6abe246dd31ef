package uploader

import (
	"time"

	"github.com/TraceLTRC/pdrive-cli/planner"
	"github.com/TraceLTRC/pdrive-cli/progress"
)

const (
	defaultConcurrency   = 4
	defaultPartRetries   = 3
	defaultLockStale     = 30 * time.Minute
	defaultAbortTimeout  = 30 * time.Second
	defaultAbortRetry    = 3
	defaultAbortInterval = time.Second
)

type config struct {
	Concurrency      int
	PartSize         int64
	MinPartSizeFloor int64
	MaxPartCount     int
	AutoPartSize     bool
	PartRetries      int
	Reporter         progress.IReporter
	Owner            string
	LockStale        time.Duration
	AbortTimeout     time.Duration
	AbortRetry       uint32
	AbortInterval    time.Duration
}

type Option func(*config)

func WithConcurrency(n int) Option {
	return func(c *config) {
		c.Concurrency = n
	}
}

func WithPartSize(sz int64) Option {
	return func(c *config) {
		c.PartSize = sz
	}
}

// WithMinPartSizeFloor sets the smallest part size the remote accepts, 0 disables the check.
func WithMinPartSizeFloor(sz int64) Option {
	return func(c *config) {
		c.MinPartSizeFloor = sz
	}
}

func WithMaxPartCount(n int) Option {
	return func(c *config) {
		c.MaxPartCount = n
	}
}

// WithAutoPartSize grows the part size when the file would need more than
// the max part count.
func WithAutoPartSize(v bool) Option {
	return func(c *config) {
		c.AutoPartSize = v
	}
}

// WithPartRetries bounds how often a part is re-sent after an integrity failure.
func WithPartRetries(n int) Option {
	return func(c *config) {
		c.PartRetries = n
	}
}

func WithReporter(r progress.IReporter) Option {
	return func(c *config) {
		c.Reporter = r
	}
}

func WithLockOwner(owner string) Option {
	return func(c *config) {
		c.Owner = owner
	}
}

func WithLockStale(d time.Duration) Option {
	return func(c *config) {
		c.LockStale = d
	}
}

// WithAbortRetry sets how often a failed remote abort is repeated.
func WithAbortRetry(times uint32, interval time.Duration) Option {
	return func(c *config) {
		c.AbortRetry = times
		c.AbortInterval = interval
	}
}

func defaultConfig() *config {
	return &config{
		Concurrency:      defaultConcurrency,
		PartSize:         planner.DefaultPartSize,
		MinPartSizeFloor: planner.DefaultMinPartSizeFloor,
		MaxPartCount:     planner.DefaultMaxPartCount,
		PartRetries:      defaultPartRetries,
		Reporter:         progress.Nop(),
		LockStale:        defaultLockStale,
		AbortTimeout:     defaultAbortTimeout,
		AbortRetry:       defaultAbortRetry,
		AbortInterval:    defaultAbortInterval,
	}
}
