package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendChunkStopsOnCancel(t *testing.T) {
	out := make(chan Chunk, 1)
	ctx := context.Background()

	assert.True(t, sendChunk(ctx, out, Chunk{Text: "a"}))

	// The channel is now full and nobody is reading. Cancellation must
	// unblock the send instead of leaking the producer.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	done := make(chan bool, 1)
	go func() {
		done <- sendChunk(cancelled, out, Chunk{Text: "b"})
	}()

	select {
	case delivered := <-done:
		assert.False(t, delivered)
	case <-time.After(time.Second):
		t.Fatal("send did not return after cancellation")
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare code untouched", "import streamlit as st", "import streamlit as st"},
		{"python fence", "```python\nimport streamlit as st\n```", "import streamlit as st"},
		{"plain fence", "```\nx = 1\n```", "x = 1"},
		{"surrounding whitespace", "  \n```python\nx = 1\n```\n  ", "x = 1"},
		{"fence mid-code untouched", "x = 1\n```\ny = 2", "x = 1\n```\ny = 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFences(tt.input))
		})
	}
}
