package wraitherr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClosesConnection(t *testing.T) {
	require.True(t, KeyCommitmentFailed.ClosesConnection())
	require.True(t, FlowControlViolation.ClosesConnection())
	require.True(t, RekeyFailed.ClosesConnection())
	require.False(t, Replay.ClosesConnection())
	require.False(t, FrameMalformed.ClosesConnection())
}

func TestIsUnwraps(t *testing.T) {
	cause := errors.New("tag mismatch")
	err := Wrap(AeadVerifyFailed, "packet 42", cause)
	require.True(t, Is(err, AeadVerifyFailed))
	require.False(t, Is(err, Replay))
	require.ErrorIs(t, err, cause)
}
