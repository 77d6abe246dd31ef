package worker

import (
	"net/http"
	"time"
)

type config struct {
	Timeout time.Duration
	Client  *http.Client
}

type Option func(*config)

func WithTimeout(t time.Duration) Option {
	return func(c *config) {
		c.Timeout = t
	}
}

func WithHttpClient(cli *http.Client) Option {
	return func(c *config) {
		c.Client = cli
	}
}
