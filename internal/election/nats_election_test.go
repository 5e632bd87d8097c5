package election

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	custodiantest "github.com/arloliu/custodian/testing"
	"github.com/arloliu/custodian/types"
)

func TestNATSElection_RequestLeadership(t *testing.T) {
	_, nc := custodiantest.StartEmbeddedNATS(t)

	t.Run("acquires seniority when nobody holds it", func(t *testing.T) {
		ctx := t.Context()
		kv := custodiantest.CreateJetStreamKV(t, nc, "election-acquire")

		election := NewNATSElection(kv, "")
		isLeader, err := election.RequestLeadership(ctx, 1, 30)
		require.NoError(t, err)
		require.True(t, isLeader)

		senior, err := election.Senior(ctx)
		require.NoError(t, err)
		require.Equal(t, types.MemberID(1), senior)
	})

	t.Run("second member loses", func(t *testing.T) {
		ctx := t.Context()
		kv := custodiantest.CreateJetStreamKV(t, nc, "election-contend")

		first := NewNATSElection(kv, DefaultKey)
		isLeader, err := first.RequestLeadership(ctx, 1, 30)
		require.NoError(t, err)
		require.True(t, isLeader)

		second := NewNATSElection(kv, DefaultKey)
		isLeader, err = second.RequestLeadership(ctx, 2, 30)
		require.NoError(t, err)
		require.False(t, isLeader)

		ok, err := second.IsLeader(ctx)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("holder renews on repeated request", func(t *testing.T) {
		ctx := t.Context()
		kv := custodiantest.CreateJetStreamKV(t, nc, "election-repeat")

		election := NewNATSElection(kv, DefaultKey)
		for range 3 {
			isLeader, err := election.RequestLeadership(ctx, 4, 30)
			require.NoError(t, err)
			require.True(t, isLeader)
		}
	})

	t.Run("rejects bad arguments", func(t *testing.T) {
		kv := custodiantest.CreateJetStreamKV(t, nc, "election-args")
		election := NewNATSElection(kv, DefaultKey)

		_, err := election.RequestLeadership(t.Context(), 1, 0)
		require.ErrorIs(t, err, ErrInvalidDuration)

		_, err = election.RequestLeadership(t.Context(), types.NoMember, 30)
		require.ErrorIs(t, err, types.ErrInvalidMember)
	})
}

func TestNATSElection_RenewAndRelease(t *testing.T) {
	_, nc := custodiantest.StartEmbeddedNATS(t)
	ctx := t.Context()

	t.Run("renew requires seniority", func(t *testing.T) {
		kv := custodiantest.CreateJetStreamKV(t, nc, "election-renew-idle")
		require.ErrorIs(t, NewNATSElection(kv, DefaultKey).RenewLeadership(ctx), ErrNotLeader)
		require.ErrorIs(t, NewNATSElection(kv, DefaultKey).ReleaseLeadership(ctx), ErrNotLeader)
	})

	t.Run("renew detects a stolen lease", func(t *testing.T) {
		kv := custodiantest.CreateJetStreamKV(t, nc, "election-stolen")

		election := NewNATSElection(kv, DefaultKey)
		_, err := election.RequestLeadership(ctx, 1, 30)
		require.NoError(t, err)

		_, err = kv.Put(ctx, DefaultKey, []byte(`{"member":9}`))
		require.NoError(t, err)

		require.ErrorIs(t, election.RenewLeadership(ctx), ErrLeadershipLost)

		ok, err := election.IsLeader(ctx)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("release hands over at once", func(t *testing.T) {
		kv := custodiantest.CreateJetStreamKV(t, nc, "election-release")

		first := NewNATSElection(kv, DefaultKey)
		_, err := first.RequestLeadership(ctx, 1, 30)
		require.NoError(t, err)
		require.NoError(t, first.ReleaseLeadership(ctx))

		senior, err := first.Senior(ctx)
		require.NoError(t, err)
		require.Equal(t, types.NoMember, senior)

		second := NewNATSElection(kv, DefaultKey)
		isLeader, err := second.RequestLeadership(ctx, 2, 30)
		require.NoError(t, err)
		require.True(t, isLeader)
	})
}

func TestNATSElection_Failover(t *testing.T) {
	_, nc := custodiantest.StartEmbeddedNATS(t)
	ctx := t.Context()
	kv := custodiantest.CreateJetStreamKVWithTTL(t, nc, "election-failover", time.Second)

	crashed := NewNATSElection(kv, DefaultKey)
	isLeader, err := crashed.RequestLeadership(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, isLeader)

	successor := NewNATSElection(kv, DefaultKey)
	require.Eventually(t, func() bool {
		ok, err := successor.RequestLeadership(ctx, 2, 1)
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)

	ok, err := crashed.IsLeader(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
