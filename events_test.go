package confclient

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDispatcherPreservesOrder(t *testing.T) {
	recorder := &eventRecorder{}
	dispatcher := NewEventDispatcher(testLog(), recorder.handle, 256)
	dispatcher.Start()

	for i := 0; i < 100; i++ {
		dispatcher.Emit(RenegotiationNeededEvent{Reason: fmt.Sprintf("change %d", i)})
	}

	require.Eventually(t, func() bool {
		return len(recorder.snapshot()) == 100
	}, time.Second, 5*time.Millisecond)
	for i, event := range recorder.snapshot() {
		assert.Equal(t, fmt.Sprintf("change %d", i), event.(RenegotiationNeededEvent).Reason)
	}

	require.NoError(t, dispatcher.Stop(time.Second))
}

func TestEventDispatcherDropsOnFullBuffer(t *testing.T) {
	recorder := &eventRecorder{}
	dispatcher := NewEventDispatcher(testLog(), recorder.handle, 1)

	// Not started yet, the second emit finds the buffer full and is dropped
	// instead of blocking the caller.
	dispatcher.Emit(RenegotiationNeededEvent{Reason: "kept"})
	dispatcher.Emit(RenegotiationNeededEvent{Reason: "dropped"})

	dispatcher.Start()
	require.Eventually(t, func() bool {
		return len(recorder.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "kept", recorder.snapshot()[0].(RenegotiationNeededEvent).Reason)

	require.NoError(t, dispatcher.Stop(time.Second))
}

func TestEventDispatcherStopTwiceDelivery(t *testing.T) {
	recorder := &eventRecorder{}
	dispatcher := NewEventDispatcher(testLog(), recorder.handle, 0)
	dispatcher.Start()

	dispatcher.Emit(LobbyJoinedEvent{})
	require.Eventually(t, func() bool {
		return len(recorder.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, dispatcher.Stop(time.Second))
}

func TestEventKinds(t *testing.T) {
	assert.Equal(t, "state-changed", StateChangedEvent{}.Kind())
	assert.Equal(t, "member-joined", MemberJoinedEvent{}.Kind())
	assert.Equal(t, "member-left", MemberLeftEvent{}.Kind())
	assert.Equal(t, "renegotiation-needed", RenegotiationNeededEvent{}.Kind())
	assert.Equal(t, "resume-exhausted", ResumeExhaustedEvent{}.Kind())
}
