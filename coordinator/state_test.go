package coordinator

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHeadOnlyIdleTransition(t *testing.T) {
	s := NewState()
	body, err := s.OnHead(1, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, body)
	assert.Equal(t, "AwaitingBody", s.RequestState())
}

func TestStateHeadRejectedOutsideIdle(t *testing.T) {
	s := NewState()
	_, err := s.OnHead(1, 1, 0)
	require.NoError(t, err)

	_, err = s.OnHead(1, 1, 0)
	require.Error(t, err)
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestStateRequestCompletesBeforeResponse(t *testing.T) {
	s := NewState()
	_, err := s.OnHead(1, 1, 0)
	require.NoError(t, err)
	require.NoError(t, s.OnEnd())
	assert.Equal(t, "AwaitingResponseComplete", s.RequestState())

	require.NoError(t, s.WaitForResponse())
	require.NoError(t, s.Mutate(func(d *draft) { d.bodyLength = Known(0) }))
	_, _, _, err = s.CommitHead()
	require.NoError(t, err)
	_, err = s.BodyComplete()
	require.NoError(t, err)

	s.HandlerConfirmed()
	assert.True(t, s.ReadyForNextExchange())
}

func TestStateResponseCompletesBeforeRequest(t *testing.T) {
	s := NewState()
	_, err := s.OnHead(1, 1, 0)
	require.NoError(t, err)

	require.NoError(t, s.WaitForResponse())
	require.NoError(t, s.Mutate(func(d *draft) { d.bodyLength = Known(0) }))
	_, _, _, err = s.CommitHead()
	require.NoError(t, err)
	_, err = s.BodyComplete()
	require.NoError(t, err)
	assert.Equal(t, "AwaitingRequestComplete", s.ResponseState())

	s.HandlerConfirmed()
	assert.Equal(t, "AwaitingRequestComplete", s.ResponseState())

	require.NoError(t, s.OnEnd())
	assert.True(t, s.ReadyForNextExchange())
}

func TestWriterMisuseOutsideCommittableState(t *testing.T) {
	s := NewState()
	err := s.Mutate(func(d *draft) {})
	require.Error(t, err)
	var we *WriterMisuseError
	assert.ErrorAs(t, err, &we)
}

func TestKeepAliveMonotonicDowngrade(t *testing.T) {
	s := NewState()
	assert.True(t, s.KeepAlive())
	require.NoError(t, s.DowngradeKeepAlive())
	assert.False(t, s.KeepAlive())

	_, err := s.OnHead(1, 1, 0)
	require.NoError(t, err)
	require.NoError(t, s.DowngradeKeepAlive())
	assert.False(t, s.KeepAlive())
}

func TestResetForNextExchangeRederivesKeepAlive(t *testing.T) {
	s := NewState()
	require.NoError(t, s.DowngradeKeepAlive())
	require.False(t, s.KeepAlive())

	s.ResetForNextExchange()
	assert.True(t, s.KeepAlive())
	assert.Equal(t, "Idle", s.RequestState())
	assert.Equal(t, "Idle", s.ResponseState())
}

func TestOnPeerHalfCloseDuringBodyConvergesAndDowngrades(t *testing.T) {
	s := NewState()
	body, err := s.OnHead(1, 1, 0)
	require.NoError(t, err)
	require.NoError(t, s.WaitForResponse())

	s.OnPeerHalfClose()
	assert.False(t, s.KeepAlive())
	assert.Equal(t, "AwaitingResponseComplete", s.RequestState())

	_, err = body.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestOnPeerHalfCloseBetweenExchangesJustDowngrades(t *testing.T) {
	s := NewState()
	assert.True(t, s.KeepAlive())

	s.OnPeerHalfClose()
	assert.False(t, s.KeepAlive())
	assert.Equal(t, "Idle", s.RequestState())
}

func TestOnResetDuringBodyFinishesBodyWithCause(t *testing.T) {
	s := NewState()
	body, err := s.OnHead(1, 1, 0)
	require.NoError(t, err)

	cause := assert.AnError
	s.OnReset(cause)
	assert.Equal(t, "IncomingStreamReset", s.RequestState())

	_, err = body.Next(context.Background())
	require.ErrorIs(t, err, cause)
}
