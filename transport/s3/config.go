package s3

import (
	"net/http"
	"time"
)

type config struct {
	Region         string
	Timeout        time.Duration
	HttpClient     *http.Client
	ChecksumSHA256 bool
}

type Option func(*config)

func WithRegion(r string) Option {
	return func(c *config) {
		c.Region = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(c *config) {
		c.Timeout = t
	}
}

func WithHttpClient(cli *http.Client) Option {
	return func(c *config) {
		c.HttpClient = cli
	}
}

// WithChecksumSHA256 sends x-amz-checksum-sha256 with every part and asks the
// server to track sha256 for the upload. Not every s3 compatible store
// supports it, md5 based verification is always on.
func WithChecksumSHA256(v bool) Option {
	return func(c *config) {
		c.ChecksumSHA256 = v
	}
}
