package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantly/grantly/pkg/logger"
	"github.com/grantly/grantly/pkg/types"
)

func TestCallbacks(t *testing.T) {
	var got types.LoginEvent
	var loggedOut string

	n := &Callbacks{
		OnLogin: func(ctx context.Context, event types.LoginEvent) error {
			got = event
			return nil
		},
		OnLogout: func(ctx context.Context, userID string) error {
			loggedOut = userID
			return nil
		},
	}

	event := types.LoginEvent{UserID: "7", Username: "alice", Timestamp: time.Now()}
	require.NoError(t, n.LoginSucceeded(context.Background(), event))
	assert.Equal(t, "alice", got.Username)

	require.NoError(t, n.LoggedOut(context.Background(), "7"))
	assert.Equal(t, "7", loggedOut)
}

func TestCallbacks_NilFuncs(t *testing.T) {
	n := &Callbacks{}
	assert.NoError(t, n.LoginSucceeded(context.Background(), types.LoginEvent{}))
	assert.NoError(t, n.LoggedOut(context.Background(), "7"))
}

func TestMulti_FanOutAndFirstError(t *testing.T) {
	calls := 0
	ok := &Callbacks{OnLogin: func(ctx context.Context, event types.LoginEvent) error {
		calls++
		return nil
	}}
	failing := &Callbacks{OnLogin: func(ctx context.Context, event types.LoginEvent) error {
		calls++
		return fmt.Errorf("boom")
	}}

	m := NewMulti(logger.NoopLogger{}, failing, ok)
	err := m.LoginSucceeded(context.Background(), types.LoginEvent{UserID: "7"})

	// the error surfaces but every notifier still ran
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
