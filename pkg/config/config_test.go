package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wraith-network/wraith/pkg/obfuscate"
	"github.com/wraith-network/wraith/pkg/transfer"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wraith.toml")
	toml := `
listen_addr = "127.0.0.1:9000"
padding_mode = "constant_rate"
multi_peer_strategy = "adaptive"
chunk_size = 65536
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	require.Equal(t, uint32(65536), cfg.ChunkSize)

	ps, err := cfg.PaddingStrategy()
	require.NoError(t, err)
	require.Equal(t, obfuscate.PaddingConstantRate, ps)

	ts, err := cfg.TransferStrategy()
	require.NoError(t, err)
	require.Equal(t, transfer.StrategyAdaptive, ts)

	// untouched fields keep their documented defaults
	require.Equal(t, Default().MTUFloor, cfg.MTUFloor)
}

func TestValidateRejectsBadMTURange(t *testing.T) {
	cfg := Default()
	cfg.MTUCeiling = cfg.MTUFloor - 1
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownPaddingMode(t *testing.T) {
	cfg := Default()
	cfg.PaddingMode = "bogus"
	require.Error(t, cfg.Validate())
}
