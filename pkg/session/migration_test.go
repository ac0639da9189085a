package session

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wraith-network/wraith/pkg/transport"
)

func TestMigrationValidatesOnMatchingResponse(t *testing.T) {
	m := NewMigration()
	net := transport.NewMemoryNetwork()
	addr := net.NewEndpoint("candidate").LocalAddr()

	token, err := m.BeginProbe(addr)
	require.NoError(t, err)
	require.False(t, m.Validated(addr))

	ok := m.OnPathResponse(addr, token)
	require.True(t, ok)
	require.True(t, m.Validated(addr))
}

func TestMigrationRejectsMismatchedToken(t *testing.T) {
	m := NewMigration()
	net := transport.NewMemoryNetwork()
	addr := net.NewEndpoint("candidate").LocalAddr()

	_, err := m.BeginProbe(addr)
	require.NoError(t, err)

	var wrong [ChallengeSize]byte
	ok := m.OnPathResponse(addr, wrong)
	require.False(t, ok)
	require.False(t, m.Validated(addr))
}

func TestMigrationAmplificationLimit(t *testing.T) {
	m := NewMigration()
	net := transport.NewMemoryNetwork()
	addr := net.NewEndpoint("candidate").LocalAddr()
	_, err := m.BeginProbe(addr)
	require.NoError(t, err)

	require.Equal(t, uint64(300), m.AllowedAmplification(addr, 100))
	m.RecordSent(addr, 250)
	require.Equal(t, uint64(50), m.AllowedAmplification(addr, 100))
}
