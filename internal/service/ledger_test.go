package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/utils"
)

type fixedValue string

func (v fixedValue) GenerateRefreshValue() (string, error) { return string(v), nil }

func TestLedger_CreateStoresOnlyHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	issued, err := f.ledger.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Value)
	assert.NotEqual(t, issued.Value, issued.Token.TokenHash)
	assert.Equal(t, utils.HashRefreshRaw(issued.Value), issued.Token.TokenHash)
	assert.True(t, f.clock.Now().Add(time.Hour).Equal(issued.Token.ExpiresAt))

	row, err := f.tokens.GetByHash(ctx, issued.Token.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, u.ID, row.UserID)
	assert.Nil(t, row.RevokedAt)
}

func TestLedger_GetActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	issued, err := f.ledger.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)

	tok, err := f.ledger.GetActive(ctx, issued.Value)
	require.NoError(t, err)
	assert.Equal(t, issued.Token.ID, tok.ID)

	_, err = f.ledger.GetActive(ctx, "")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = f.ledger.GetActive(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestLedger_ExpiredAndRevokedLookLikeAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	expiring, err := f.ledger.Create(ctx, u.ID, time.Minute)
	require.NoError(t, err)
	revoked, err := f.ledger.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Revoke(ctx, revoked.Token))

	f.clock.Advance(time.Minute)

	_, err = f.ledger.GetActive(ctx, expiring.Value)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = f.ledger.GetActive(ctx, revoked.Value)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = f.ledger.Consume(ctx, expiring.Value)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestLedger_RevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	issued, err := f.ledger.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)
	tok, err := f.ledger.GetActive(ctx, issued.Value)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Revoke(ctx, tok))
	first := *tok.RevokedAt

	f.clock.Advance(time.Minute)
	require.NoError(t, f.ledger.Revoke(ctx, tok))

	// a stale copy that still thinks it is active must not move the timestamp
	stale := *issued.Token
	require.NoError(t, f.ledger.Revoke(ctx, &stale))

	row, err := f.tokens.GetByHash(ctx, tok.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, row.RevokedAt)
	assert.True(t, first.Equal(*row.RevokedAt))
}

func TestLedger_ConsumeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	issued, err := f.ledger.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)

	tok, err := f.ledger.Consume(ctx, issued.Value)
	require.NoError(t, err)
	assert.Equal(t, u.ID, tok.UserID)
	assert.NotNil(t, tok.RevokedAt)

	_, err = f.ledger.Consume(ctx, issued.Value)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = f.ledger.GetActive(ctx, issued.Value)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestLedger_ConcurrentConsumeHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	issued, err := f.ledger.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)

	const workers = 16
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		winners  atomic.Int32
		notFound atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.ledger.Consume(ctx, issued.Value)
			switch {
			case err == nil:
				winners.Add(1)
			case assert.ErrorIs(t, err, ErrTokenNotFound):
				notFound.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(workers-1), notFound.Load())
}

func TestLedger_CollisionNeverOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.mkUser(t, "alice", "secret1", model.RoleUser)
	bob := f.mkUser(t, "bob", "secret1", model.RoleUser)

	l := NewLedger(f.tokens, fixedValue("same-value"), f.clock.Now)
	first, err := l.Create(ctx, alice.ID, time.Hour)
	require.NoError(t, err)

	_, err = l.Create(ctx, bob.ID, time.Hour)
	assert.ErrorIs(t, err, ErrTokenCollision)

	tok, err := l.GetActive(ctx, first.Value)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, tok.UserID)
}

func TestLedger_RevokeAllForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.mkUser(t, "alice", "secret1", model.RoleUser)
	bob := f.mkUser(t, "bob", "secret1", model.RoleUser)

	var values []string
	for i := 0; i < 3; i++ {
		issued, err := f.ledger.Create(ctx, alice.ID, time.Hour)
		require.NoError(t, err)
		values = append(values, issued.Value)
	}
	// already revoked and already expired tokens are not counted
	gone, err := f.ledger.Create(ctx, alice.ID, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Revoke(ctx, gone.Token))
	_, err = f.ledger.Create(ctx, alice.ID, -time.Minute)
	require.NoError(t, err)

	other, err := f.ledger.Create(ctx, bob.ID, time.Hour)
	require.NoError(t, err)

	n, err := f.ledger.RevokeAllForUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, v := range values {
		_, err := f.ledger.GetActive(ctx, v)
		assert.ErrorIs(t, err, ErrTokenNotFound)
	}
	_, err = f.ledger.GetActive(ctx, other.Value)
	assert.NoError(t, err)

	n, err = f.ledger.RevokeAllForUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLedger_PurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	short, err := f.ledger.Create(ctx, u.ID, time.Minute)
	require.NoError(t, err)
	shortRevoked, err := f.ledger.Create(ctx, u.ID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Revoke(ctx, shortRevoked.Token))
	long, err := f.ledger.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)
	longRevoked, err := f.ledger.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Revoke(ctx, longRevoked.Token))

	f.clock.Advance(2 * time.Minute)

	n, err := f.ledger.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = f.tokens.GetByHash(ctx, short.Token.TokenHash)
	assert.Error(t, err)
	_, err = f.tokens.GetByHash(ctx, shortRevoked.Token.TokenHash)
	assert.Error(t, err)
	_, err = f.tokens.GetByHash(ctx, longRevoked.Token.TokenHash)
	assert.NoError(t, err)
	_, err = f.ledger.GetActive(ctx, long.Value)
	assert.NoError(t, err)
}

func TestSweeper_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	_, err := f.ledger.Create(ctx, u.ID, time.Minute)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	s := NewSweeper(f.ledger, time.Hour, f.auth.log, nil)
	assert.Equal(t, int64(1), s.Sweep(ctx))
	assert.Zero(t, s.Sweep(ctx))
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewSweeper(f.ledger, time.Millisecond, f.auth.log, nil).Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
