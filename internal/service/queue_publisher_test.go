package service

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/filevault/internal/logger"
	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/queue"
)

// hungBroker accepts TCP connections and never speaks AMQP, so every
// handshake stalls until the client gives up.
type hungBroker struct {
	ln       net.Listener
	accepted atomic.Int32
	mu       sync.Mutex
	conns    []net.Conn
}

func newHungBroker(t *testing.T) *hungBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	b := &hungBroker{ln: ln}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			b.accepted.Add(1)
			b.mu.Lock()
			b.conns = append(b.conns, c)
			b.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		b.mu.Lock()
		for _, c := range b.conns {
			_ = c.Close()
		}
		b.mu.Unlock()
	})
	return b
}

func (b *hungBroker) url() string { return "amqp://guest:guest@" + b.ln.Addr().String() + "/" }

func TestAMQPPublisher_PublishDoesNotWaitForBroker(t *testing.T) {
	b := newHungBroker(t)
	p := newAMQPPublisher(b.url(), "events", logger.Nop(), 16, 300*time.Millisecond)
	defer p.Close()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(context.Background(), queue.Event{Type: queue.EventUserLoggedIn, UserID: uint64(i + 1)}))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAMQPPublisher_FullBufferDrops(t *testing.T) {
	b := newHungBroker(t)
	p := newAMQPPublisher(b.url(), "events", logger.Nop(), 1, time.Second)
	defer p.Close()

	var dropped int
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := p.Publish(context.Background(), queue.Event{Type: queue.EventFileUploaded}); err != nil {
			assert.ErrorIs(t, err, ErrEventQueueFull)
			dropped++
		}
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.GreaterOrEqual(t, dropped, 8)
}

func TestAMQPPublisher_FailedDialBacksOff(t *testing.T) {
	b := newHungBroker(t)
	p := newAMQPPublisher(b.url(), "events", logger.Nop(), 16, 100*time.Millisecond)

	require.NoError(t, p.Publish(context.Background(), queue.Event{Type: queue.EventUserRegistered}))
	require.Eventually(t, func() bool { return b.accepted.Load() == 1 }, time.Second, 10*time.Millisecond)
	// let the handshake time out
	time.Sleep(300 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(context.Background(), queue.Event{Type: queue.EventUserRegistered}))
	}
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, p.Close())
	assert.EqualValues(t, 1, b.accepted.Load())
}

func TestAMQPPublisher_CloseIsBoundedAndIdempotent(t *testing.T) {
	b := newHungBroker(t)
	p := newAMQPPublisher(b.url(), "events", logger.Nop(), 16, 200*time.Millisecond)
	require.NoError(t, p.Publish(context.Background(), queue.Event{Type: queue.EventFileDeleted}))
	require.Eventually(t, func() bool { return b.accepted.Load() == 1 }, time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, p.Close())

	err := p.Publish(context.Background(), queue.Event{Type: queue.EventFileDeleted})
	assert.ErrorIs(t, err, errPublisherClosed)
}

func TestAuth_LoginNotHeldUpByStalledBroker(t *testing.T) {
	f := newFixture(t)
	f.mkUser(t, "alice", "secret1", model.RoleUser)
	f.mkUser(t, "bob", "secret2", model.RoleUser)

	b := newHungBroker(t)
	p := NewAMQPPublisher(b.url(), "events", logger.Nop())
	defer p.Close()
	f.auth.events = p

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, cred := range [][2]string{{"alice", "secret1"}, {"bob", "secret2"}} {
		wg.Add(1)
		go func(i int, user, pass string) {
			defer wg.Done()
			_, errs[i] = f.auth.Login(ctx, user, pass)
		}(i, cred[0], cred[1])
	}
	wg.Wait()

	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}
