package shutdown_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/shutdown"
)

func TestSignalClosesDone(t *testing.T) {
	t.Parallel()

	c := shutdown.New()
	fired, _ := c.Fired()
	require.False(t, fired)

	select {
	case <-c.Done():
		t.Fatal("done closed before signal")
	default:
	}

	c.Signal("test reason")

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after signal")
	}

	fired, reason := c.Fired()
	require.True(t, fired)
	require.Equal(t, "test reason", reason)
}

func TestSignalIsIdempotent(t *testing.T) {
	t.Parallel()

	c := shutdown.New()
	c.Signal("first")
	c.Signal("second")

	_, reason := c.Fired()
	require.Equal(t, "first", reason)
}

func TestDoneIsSafeForMultipleSubscribers(t *testing.T) {
	t.Parallel()

	c := shutdown.New()
	a := c.Done()
	b := c.Done()
	c.Signal("go")

	<-a
	<-b
}
