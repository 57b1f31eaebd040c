package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotentPost(t *testing.T) {
	var calls []ConnectionState
	var n = New(func(s ConnectionState, msg string) { calls = append(calls, s) })

	n.Post(Disconnected, "") // same as initial state: no-op.
	n.Post(Connected, "")
	n.Post(Connected, "") // repeat: no-op.
	n.Post(Disconnected, "boom")
	n.Post(Disconnected, "boom again") // repeat: no-op.

	assert.Equal(t, []ConnectionState{Connected, Disconnected}, calls)
}

func TestMessageDeliveredOnDisconnect(t *testing.T) {
	var got string
	var n = New(func(s ConnectionState, msg string) {
		if s == Disconnected {
			got = msg
		}
	})

	n.Post(Connected, "")
	n.Post(Disconnected, "pool exhausted: operator action required")

	assert.Equal(t, "pool exhausted: operator action required", got)
}

func TestLastReflectsMostRecentPost(t *testing.T) {
	var n = New(nil)
	assert.Equal(t, Disconnected, n.Last())
	n.Post(Connected, "")
	assert.Equal(t, Connected, n.Last())
}
