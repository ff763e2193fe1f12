package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"hfauth/cmd/internal/clock"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(store Store) (*Manager, *clock.Manual) {
	clk := clock.NewManual(t0)
	return NewManager(store, DefaultConfig(), WithClock(clk)), clk
}

func countStates(list []Session) map[State]int {
	out := make(map[State]int)
	for _, s := range list {
		out[s.State]++
	}
	return out
}

// runManagerContract checks the session lifecycle against s. Each subtest
// uses its own user id derived from base.
func runManagerContract(t *testing.T, s Store, base int64) {
	t.Helper()

	t.Run("most recent session wins", func(t *testing.T) {
		m, clk := newTestManager(s)
		ctx := context.Background()
		user := base

		first, err := m.Open(ctx, user, "10.0.0.1", "Mozilla Chrome")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(first.Token, "SES_"))
		require.Equal(t, DeviceDesktop, first.Device)
		require.Equal(t, BrowserChrome, first.Browser)
		require.Equal(t, StateActive, first.State)
		require.Empty(t, first.Closed)

		clk.Advance(time.Second)
		second, err := m.Open(ctx, user, "10.0.0.1", "Mozilla Chrome")
		require.NoError(t, err)
		require.Equal(t, []string{first.ID}, second.Closed)

		list, err := m.ListForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, second.ID, list[0].ID, "newest first")
		require.Equal(t, StateActive, list[0].State)
		require.Equal(t, StateClosed, list[1].State)
		require.NotNil(t, list[1].EndedAt)
		require.True(t, list[1].EndedAt.Equal(t0.Add(time.Second)))

		ok, err := m.Validate(ctx, first.Token)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("concurrent opens leave one active", func(t *testing.T) {
		m, _ := newTestManager(s)
		ctx := context.Background()
		user := base + 1

		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Open(ctx, user, "", "Mozilla Firefox")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		list, err := m.ListForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, list, n)
		states := countStates(list)
		require.Equal(t, 1, states[StateActive])
		require.Equal(t, n-1, states[StateClosed])
	})

	t.Run("idle threshold", func(t *testing.T) {
		m, clk := newTestManager(s)
		ctx := context.Background()
		user := base + 2

		opened, err := m.Open(ctx, user, "", "")
		require.NoError(t, err)
		require.Equal(t, Unknown, opened.Device)

		clk.Set(t0.Add(2 * time.Hour))
		ok, err := m.Validate(ctx, opened.Token)
		require.NoError(t, err)
		require.True(t, ok, "exactly 2h idle is still valid")

		// Validate must not have refreshed last_accessed_at.
		clk.Set(t0.Add(2*time.Hour + time.Second))
		_, ok, expired, err := m.Lookup(ctx, opened.Token)
		require.NoError(t, err)
		require.False(t, ok)
		require.NotNil(t, expired)
		require.Equal(t, StateExpired, expired.State)

		// Terminal: Touch and Close leave it alone.
		touched, err := m.Touch(ctx, opened.Token)
		require.NoError(t, err)
		require.False(t, touched)
		_, closed, err := m.Close(ctx, opened.Token)
		require.NoError(t, err)
		require.False(t, closed)

		list, err := m.ListForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, StateExpired, list[0].State)
	})

	t.Run("touch extends idle window", func(t *testing.T) {
		m, clk := newTestManager(s)
		ctx := context.Background()
		user := base + 3

		opened, err := m.Open(ctx, user, "", "Mozilla Chrome Mobile")
		require.NoError(t, err)
		require.Equal(t, DeviceMobile, opened.Device)

		clk.Advance(90 * time.Minute)
		touched, err := m.Touch(ctx, opened.Token)
		require.NoError(t, err)
		require.True(t, touched)

		clk.Advance(90 * time.Minute)
		ok, err := m.Validate(ctx, opened.Token)
		require.NoError(t, err)
		require.True(t, ok)

		got, closed, err := m.Close(ctx, opened.Token)
		require.NoError(t, err)
		require.True(t, closed)
		require.Equal(t, StateClosed, got.State)

		_, closed, err = m.Close(ctx, opened.Token)
		require.NoError(t, err)
		require.False(t, closed, "close is idempotent")
	})

	t.Run("close all revokes", func(t *testing.T) {
		m, _ := newTestManager(s)
		ctx := context.Background()
		user := base + 4

		_, err := m.Open(ctx, user, "", "")
		require.NoError(t, err)
		_, err = m.Open(ctx, user, "", "")
		require.NoError(t, err)

		revoked, err := m.CloseAllForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, revoked, 1)
		require.Equal(t, StateRevoked, revoked[0].State)

		list, err := m.ListForUser(ctx, user)
		require.NoError(t, err)
		states := countStates(list)
		require.Equal(t, 1, states[StateRevoked])
		require.Equal(t, 1, states[StateClosed])
		require.Zero(t, states[StateActive])
	})

	t.Run("sweep idle", func(t *testing.T) {
		m, clk := newTestManager(s)
		ctx := context.Background()
		user := base + 5

		_, err := m.Open(ctx, user, "", "")
		require.NoError(t, err)

		clk.Set(t0.Add(24 * time.Hour))
		swept, err := m.SweepIdle(ctx)
		require.NoError(t, err)
		for _, sw := range swept {
			require.NotEqual(t, user, sw.UserID, "exactly 24h idle is not swept")
		}

		clk.Set(t0.Add(24*time.Hour + time.Second))
		swept, err = m.SweepIdle(ctx)
		require.NoError(t, err)
		found := false
		for _, sw := range swept {
			if sw.UserID == user {
				found = true
				require.Equal(t, StateExpired, sw.State)
			}
		}
		require.True(t, found)
	})
}

func TestMemoryManager_Contract(t *testing.T) {
	t.Parallel()
	runManagerContract(t, NewMemoryStore(), 42)
}

func TestManager_EmptyToken(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(NewMemoryStore())
	ctx := context.Background()

	ok, err := m.Validate(ctx, "")
	require.NoError(t, err)
	require.False(t, ok)

	touched, err := m.Touch(ctx, "")
	require.NoError(t, err)
	require.False(t, touched)
}
