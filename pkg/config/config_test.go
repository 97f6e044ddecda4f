package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/auditstream/pkg/output"
	"github.com/yairfalse/auditstream/pkg/pipeline"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Transport.Netlink.Enable)
	assert.Equal(t, pipeline.FormatNetlink, cfg.Pipeline.Format)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.Correlator.EventTimeout)
	assert.Equal(t, "legacy", cfg.Output.Format)
	assert.Equal(t, "-", cfg.Output.Path)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
pipeline:
  format: text
  strict_parsing: true
  correlator:
    event_timeout: 5s
    sweep_interval: 1s
output:
  format: json
  path: /var/log/audit-events.json
archive:
  enabled: true
  path: /var/lib/auditstream/events.db
logging:
  level: debug
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, pipeline.FormatText, cfg.Pipeline.Format)
	assert.True(t, cfg.Pipeline.StrictParsing)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.Correlator.EventTimeout)
	assert.Equal(t, time.Second, cfg.Pipeline.Correlator.SweepInterval)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, "/var/log/audit-events.json", cfg.Output.Path)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "/var/lib/auditstream/events.db", cfg.Archive.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	// Untouched sections keep their defaults.
	assert.Equal(t, 1024, cfg.Pipeline.RawQueueSize)
	assert.True(t, cfg.Transport.Netlink.Enable)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("AUDITSTREAM_OUTPUT_FORMAT", "json")
	t.Setenv("AUDITSTREAM_EVENT_TIMEOUT", "10s")
	t.Setenv("AUDITSTREAM_STRICT_PARSING", "true")
	t.Setenv("AUDITSTREAM_NATS_URL", "nats://queue:4222")
	t.Setenv("AUDITSTREAM_ARCHIVE_ENABLED", "1")
	t.Setenv("AUDITSTREAM_RECEIVE_BUFFER", "4194304")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.Correlator.EventTimeout)
	assert.True(t, cfg.Pipeline.StrictParsing)
	assert.Equal(t, "nats://queue:4222", cfg.Output.NATS.URL)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, 4*1024*1024, cfg.Transport.Netlink.ReceiveBuffer)
}

func TestApplyEnvIgnoresUnparseable(t *testing.T) {
	t.Setenv("AUDITSTREAM_EVENT_TIMEOUT", "soon")
	t.Setenv("AUDITSTREAM_RECEIVE_BUFFER", "lots")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, 2*time.Second, cfg.Pipeline.Correlator.EventTimeout)
	assert.Equal(t, 1024*1024, cfg.Transport.Netlink.ReceiveBuffer)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Archive.Enabled = true
	cfg.Archive.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Pipeline.Correlator.SweepInterval = 3 * time.Second
	assert.Error(t, cfg.Validate(), "sweep interval above event timeout")
}

func TestOutputRenderer(t *testing.T) {
	r, err := OutputConfig{Format: "legacy"}.Renderer()
	require.NoError(t, err)
	assert.IsType(t, output.LegacyRenderer{}, r)

	r, err = OutputConfig{Format: "json"}.Renderer()
	require.NoError(t, err)
	assert.IsType(t, output.JSONRenderer{}, r)

	_, err = OutputConfig{Format: "yaml"}.Renderer()
	assert.Error(t, err)
}
