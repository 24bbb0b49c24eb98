package gosocketio

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckTableResolve(t *testing.T) {
	var table ackTable
	sent := make(chan int, 1)

	go func() {
		id := <-sent
		assert.True(t, table.resolve(id, Args{json.RawMessage(`"pong"`)}))
	}()

	reply, err := table.await(context.Background(), time.Second, func(id int) error {
		sent <- id
		return nil
	})
	require.NoError(t, err)

	var s string
	require.NoError(t, reply.Scan(&s))
	assert.Equal(t, "pong", s)
	assert.Equal(t, 0, table.size())
}

func TestAckTableIDsMonotonic(t *testing.T) {
	var table ackTable
	a, _ := table.open()
	b, _ := table.open()
	table.take(a)
	c, _ := table.open()

	assert.Equal(t, []int{0, 1, 2}, []int{a, b, c})
}

func TestAckTableTimeout(t *testing.T) {
	var table ackTable
	var id int

	start := time.Now()
	_, err := table.await(context.Background(), 50*time.Millisecond, func(i int) error {
		id = i
		return nil
	})
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, table.size())

	assert.False(t, table.resolve(id, nil), "a late reply finds nothing")
}

func TestAckTableCancel(t *testing.T) {
	var table ackTable
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := table.await(ctx, 0, func(int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, table.size())
}

func TestAckTableSendError(t *testing.T) {
	var table ackTable
	boom := errors.New("write failed")

	_, err := table.await(context.Background(), time.Second, func(int) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, table.size())
}

func TestAckTableFailAll(t *testing.T) {
	var table ackTable
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	opened := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := table.await(context.Background(), 0, func(int) error {
				opened <- struct{}{}
				return nil
			})
			errs <- err
		}()
	}
	for i := 0; i < 3; i++ {
		<-opened
	}

	assert.Equal(t, 3, table.failAll(ErrDisconnected))
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrDisconnected)
	}
	assert.Equal(t, 0, table.size())
}

func TestAckOutcome(t *testing.T) {
	assert.Equal(t, "ok", ackOutcome(nil))
	assert.Equal(t, "timeout", ackOutcome(ErrAckTimeout))
	assert.Equal(t, "disconnected", ackOutcome(ErrDisconnected))
	assert.Equal(t, "canceled", ackOutcome(context.Canceled))
}
