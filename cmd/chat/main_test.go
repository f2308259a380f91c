package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind/assistant/internal/conversation"
	"github.com/mailmind/assistant/pkg/logger"
)

func TestRunRendersConversation(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out)
	store := conversation.New(conversation.NewEchoSynthesizer(5*time.Millisecond),
		conversation.WithLogger(logger.NewNop()),
		conversation.WithObserver(v.render),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, run(ctx, store, strings.NewReader("Hello\n\nexit\n"), v))

	v.mu.Lock()
	text := out.String()
	v.mu.Unlock()

	assert.Contains(t, text, "Me Hello")
	assert.Contains(t, text, "AI "+conversation.EchoReply("Hello"))
	assert.Equal(t, 2, store.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	v := newView(&bytes.Buffer{})
	store := conversation.New(conversation.NewEchoSynthesizer(0), conversation.WithLogger(logger.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A reader that never yields input.
	pr, _ := newBlockingReader()
	assert.ErrorIs(t, run(ctx, store, pr, v), context.Canceled)
}

func newBlockingReader() (*blockingReader, func()) {
	r := &blockingReader{done: make(chan struct{})}
	return r, func() { close(r.done) }
}

type blockingReader struct {
	done chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.done
	return 0, context.Canceled
}

// endlessReader yields the same line forever.
type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	return copy(p, "line\n"), nil
}

func TestScanLinesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lines := scanLines(ctx, endlessReader{})

	<-lines
	cancel()

	closed := make(chan struct{})
	go func() {
		for range lines {
		}
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("scanner goroutine kept sending after cancel")
	}
}
