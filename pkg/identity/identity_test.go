package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndSaveLoadRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	defer id.Destroy()

	path := filepath.Join(t.TempDir(), "identity")
	require.NoError(t, id.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	defer loaded.Destroy()

	require.Equal(t, id.SignPublic, loaded.SignPublic)
	require.Equal(t, id.DHPublic, loaded.DHPublic)
	require.Equal(t, id.ID, loaded.ID)
	require.Equal(t, id.DHPrivate(), loaded.DHPrivate())
}

func TestNodeIDDeterministic(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	defer id.Destroy()

	require.Equal(t, deriveNodeID(id.SignPublic), id.ID)
}

func TestDestroyIdempotent(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	require.NotPanics(t, func() {
		id.Destroy()
		id.Destroy()
	})
}
