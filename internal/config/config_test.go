package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"send-preview-sol/internal/consts"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "preview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
logger:
  format: json
  level: debug
rpc:
  endpoint: http://127.0.0.1:8899
accounts:
  - id: main
    address: 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
kafka_producer:
  brokers: 127.0.0.1:9092
  topics:
    preview: send-preview
    balance: send-balance
  partitions:
    preview: 4
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, consts.NetworkMainnet, c.Send.Network)
	assert.Equal(t, consts.DefaultDebounceMs, c.Send.DebounceMs)
	assert.Equal(t, consts.DefaultFeeLamports, c.Send.DefaultFeeLamports)
	assert.Equal(t, consts.DefaultRentExemptionLamports, c.Send.RentExemptionLamports)
	assert.Equal(t, "json", c.LogConf.ToLogOption().Format)
	require.Len(t, c.Accounts, 1)
	assert.Equal(t, "main", c.Accounts[0].ID)

	opt := c.KafkaProducerConf.ToKafkaOption()
	require.Len(t, opt.Topics, 2)
	assert.Equal(t, "send-preview", opt.Topics[0].Topic)
	assert.Equal(t, 4, opt.Topics[0].Partitions)
	assert.Equal(t, 500, int(c.Send.Debounce().Milliseconds()))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing endpoint", "accounts:\n  - id: a\n    address: x\n"},
		{"missing accounts", "rpc:\n  endpoint: http://x\n"},
		{"bad asset", "rpc:\n  endpoint: http://x\naccounts:\n  - id: a\n    address: x\nassets:\n  - mint: m\n"},
		{"bad yaml", "rpc: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml")) })
}
