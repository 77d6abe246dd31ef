package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TraceLTRC/pdrive-cli/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFormats(t *testing.T) {
	testList := []struct {
		format string
		raw    string
	}{
		{"json", `{"endpoint":"https://s3.example.com","token":"tk","bucket":"media","part_size":"16MiB","concurrency":8,"retry":{"base_delay":"1s"}}`},
		{"yaml", "endpoint: https://s3.example.com\ntoken: tk\nbucket: media\npart_size: 16MiB\nconcurrency: 8\nretry:\n  base_delay: 1s\n"},
		{"toml", "endpoint = \"https://s3.example.com\"\ntoken = \"tk\"\nbucket = \"media\"\npart_size = \"16MiB\"\nconcurrency = 8\n[retry]\nbase_delay = \"1s\"\n"},
	}
	for _, item := range testList {
		c, err := Decode([]byte(item.raw), item.format)
		require.NoError(t, err, item.format)
		assert.Equal(t, "https://s3.example.com", c.Endpoint)
		assert.Equal(t, int64(16*1024*1024), c.PartSizeBytes, item.format)
		assert.Equal(t, int64(5*1024*1024), c.FloorBytes)
		assert.Equal(t, 8, c.Concurrency)
		assert.Equal(t, time.Second, c.BaseDelayValue, item.format)
		// untouched nested fields keep their defaults
		assert.Equal(t, 30*time.Second, c.MaxDelayValue, item.format)
		assert.Equal(t, ProtocolS3, c.Protocol)
		assert.NotEmpty(t, c.SessionDB)
	}
}

func TestValidateErrors(t *testing.T) {
	testList := []string{
		`{"token":"tk","bucket":"media"}`,
		`{"endpoint":"ftp://x","token":"tk","bucket":"media"}`,
		`{"endpoint":"https://x","bucket":"media"}`,
		`{"endpoint":"https://x","token":"tk"}`,
		`{"endpoint":"https://x","token":"tk","bucket":"media","protocol":"ftp"}`,
		`{"endpoint":"https://x","token":"tk","bucket":"media","concurrency":-1}`,
		`{"endpoint":"https://x","token":"tk","bucket":"media","part_size":"lots"}`,
		`{"endpoint":"https://x","token":"tk","bucket":"media","timeout":"soon"}`,
		`{"endpoint":`,
	}
	for _, raw := range testList {
		_, err := Decode([]byte(raw), "json")
		assert.True(t, errs.Is(err, errs.KindConfig), "raw:%s, err:%v", raw, err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	c := Default()
	c.Endpoint = "https://worker.example.com"
	c.Token = "tk"
	c.Bucket = "media"
	c.Protocol = ProtocolWorker
	for _, format := range []string{"json", "yaml", "toml"} {
		raw, err := Encode(c, format)
		require.NoError(t, err)
		got, err := Decode(raw, format)
		require.NoError(t, err, format)
		assert.Equal(t, ProtocolWorker, got.Protocol)
		assert.Equal(t, int64(8*1024*1024), got.PartSizeBytes)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("AppData", dir)
	t.Setenv(EnvConfigFile, "")

	_, _, err := Load("")
	assert.True(t, errs.Is(err, errs.KindConfig))

	_, _, err = Load(filepath.Join(dir, "missing.json"))
	assert.True(t, errs.Is(err, errs.KindConfig))

	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte("endpoint: https://x\ntoken: tk\nbucket: media\n"), 0600))
	t.Setenv(EnvConfigFile, file)
	c, used, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, file, used)
	assert.Equal(t, "media", c.Bucket)
}

func TestLogLevel(t *testing.T) {
	testList := []struct {
		level  string
		expect string
		ok     bool
	}{
		{"debug", "debug", true},
		{"INFO", "info", true},
		{"error", "warn", true},
		{"panic", "panic", true},
		{"verbose", "", false},
		{"", "", false},
	}
	for _, item := range testList {
		raw := `{"endpoint":"https://x","token":"tk","bucket":"media","log_level":"` + item.level + `"}`
		c, err := Decode([]byte(raw), "json")
		if !item.ok {
			assert.True(t, errs.Is(err, errs.KindConfig), item.level)
			continue
		}
		require.NoError(t, err, item.level)
		assert.Equal(t, item.expect, c.LogLevel)
	}
}

func TestLegacyKeys(t *testing.T) {
	raw := "token = \"tk\"\napi_url = \"https://pdrive.example.workers.dev\"\nconcurrent_requests = 2\n"
	c, err := Decode([]byte(raw), "toml")
	require.NoError(t, err)
	assert.Equal(t, "https://pdrive.example.workers.dev", c.Endpoint)
	assert.Equal(t, ProtocolWorker, c.Protocol)
	assert.Equal(t, 2, c.Concurrency)

	// without a bucket only the worker gateway works
	_, err = Decode([]byte(`{"endpoint":"https://x","token":"tk","protocol":"worker"}`), "json")
	assert.NoError(t, err)
	_, err = Decode([]byte(`{"endpoint":"https://x","token":"tk","protocol":"s3"}`), "json")
	assert.True(t, errs.Is(err, errs.KindConfig))

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("AppData", dir)
	t.Setenv(EnvConfigFile, "")
	cdir, err := Dir()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cdir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(cdir, "default-config.toml"), []byte(raw), 0600))
	c, used, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cdir, "default-config.toml"), used)
	assert.Equal(t, ProtocolWorker, c.Protocol)
}
