package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnFlowControlReserveAndExhaust(t *testing.T) {
	fc := NewConnFlowControl(100)
	require.True(t, fc.Reserve(60))
	require.True(t, fc.Reserve(40))
	require.False(t, fc.Reserve(1))
}

func TestConnFlowControlGrantExtends(t *testing.T) {
	fc := NewConnFlowControl(10)
	require.True(t, fc.Reserve(10))
	require.False(t, fc.Reserve(1))
	fc.Grant(20)
	require.True(t, fc.Reserve(10))
}

func TestConnFlowControlConsumeHysteresis(t *testing.T) {
	fc := NewConnFlowControl(100)
	_, ok := fc.Consume(10)
	require.False(t, ok)
	_, ok = fc.Consume(40)
	require.True(t, ok)
}
