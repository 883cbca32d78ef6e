package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitForShutdownRunsCleanupsInReverse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var order []int
	var sawDeadline bool
	WaitForShutdown(ctx, time.Second,
		func(context.Context) { order = append(order, 1) },
		nil,
		func(c context.Context) {
			_, sawDeadline = c.Deadline()
			order = append(order, 3)
		},
	)
	assert.Equal(t, []int{3, 1}, order)
	assert.True(t, sawDeadline)
}

func TestNewSignalContextCancel(t *testing.T) {
	ctx, cancel := NewSignalContext(context.Background())
	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
}
