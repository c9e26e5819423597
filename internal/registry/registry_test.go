package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domainwallet/walletcore/pkg/types"
)

func testSession(topic, address string) *types.Session {
	return &types.Session{
		Topic:        topic,
		PairingTopic: "pair-" + topic,
		Peer:         types.PeerDescriptor{Name: "Remote Wallet"},
		Namespaces: map[string]types.Namespace{
			"eip155": {
				Accounts: []string{"eip155:1:" + address},
				Methods:  []string{"personal_sign", "eth_signTransaction"},
			},
		},
		Expiry:    time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
}

func TestRegistrySaveAndLookup(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryRepository())

	t.Run("rejects empty namespaces", func(t *testing.T) {
		err := reg.Save(ctx, &types.Session{Topic: "t1"})
		assert.Error(t, err)
	})

	t.Run("lookup is case-normalized", func(t *testing.T) {
		require.NoError(t, reg.Save(ctx, testSession("t1", "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")))

		found, err := reg.FindSessions(ctx, "0xABCDEF0123456789ABCDEF0123456789ABCDEF01")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "t1", found[0].Topic)
	})

	t.Run("second session for same address is tolerated", func(t *testing.T) {
		require.NoError(t, reg.Save(ctx, testSession("t2", "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")))

		found, err := reg.FindSessions(ctx, "0xabcdef0123456789abcdef0123456789abcdef01")
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})
}

func TestRegistryRemove(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryRepository())

	addr := "0x1111111111111111111111111111111111111111"
	require.NoError(t, reg.Save(ctx, testSession("t1", addr)))
	require.NoError(t, reg.Remove(ctx, "t1"))

	found, err := reg.FindSessions(ctx, addr)
	require.NoError(t, err)
	assert.Empty(t, found)

	session, err := reg.FindByTopic(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestFilterLive(t *testing.T) {
	ctx := context.Background()
	addr := "0x2222222222222222222222222222222222222222"

	t.Run("purges sessions missing from the authoritative list", func(t *testing.T) {
		reg := New(NewMemoryRepository())
		var stale []string
		reg.OnStale(func(ctx context.Context, s *types.Session) {
			stale = append(stale, s.Topic)
		})

		require.NoError(t, reg.Save(ctx, testSession("live", addr)))
		require.NoError(t, reg.Save(ctx, testSession("dead", addr)))

		sessions, err := reg.FindSessions(ctx, addr)
		require.NoError(t, err)
		require.Len(t, sessions, 2)

		survivors, err := reg.FilterLive(ctx, sessions, []string{"live"})
		require.NoError(t, err)
		require.Len(t, survivors, 1)
		assert.Equal(t, "live", survivors[0].Topic)
		assert.Equal(t, []string{"dead"}, stale)

		// The purged session is gone from the registry itself.
		remaining, err := reg.FindSessions(ctx, addr)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, "live", remaining[0].Topic)
	})

	t.Run("removed session stays gone even if still reported live", func(t *testing.T) {
		reg := New(NewMemoryRepository())
		require.NoError(t, reg.Save(ctx, testSession("t9", addr)))
		require.NoError(t, reg.Remove(ctx, "t9"))

		sessions, err := reg.FindSessions(ctx, addr)
		require.NoError(t, err)
		assert.Empty(t, sessions)

		survivors, err := reg.FilterLive(ctx, sessions, []string{"t9"})
		require.NoError(t, err)
		assert.Empty(t, survivors)
	})

	t.Run("no live topics purges everything", func(t *testing.T) {
		reg := New(NewMemoryRepository())
		require.NoError(t, reg.Save(ctx, testSession("t1", addr)))

		sessions, err := reg.FindSessions(ctx, addr)
		require.NoError(t, err)

		survivors, err := reg.FilterLive(ctx, sessions, nil)
		require.NoError(t, err)
		assert.Empty(t, survivors)
	})
}
