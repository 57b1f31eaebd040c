package fabric

import (
	"sync"

	"go.cdi.dev/core/protocol"
)

// Schedule is called once per attempted operation and returns the error (if
// any) that attempt should fail with.
type Schedule func() error

// FailNTimes returns a Schedule that fails the first n calls with err, then
// succeeds (returns nil) on every call after.
func FailNTimes(n int, err error) Schedule {
	var mu sync.Mutex
	var count int
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		if count < n {
			count++
			return err
		}
		return nil
	}
}

// FaultInjectingProvider wraps another Provider (typically a
// LoopbackProvider pair) and applies caller-supplied Schedules to PostSend
// and PostReceive, for tests exercising the probe FSM's retry and
// reset-on-failure behavior (spec §8) without a real fabric fault.
type FaultInjectingProvider struct {
	Inner        Provider
	SendSchedule Schedule
	RecvSchedule Schedule
}

func (p *FaultInjectingProvider) Open(localGID protocol.GID, remoteGID *protocol.GID) error {
	return p.Inner.Open(localGID, remoteGID)
}

func (p *FaultInjectingProvider) PostSend(payload []byte, context interface{}, flush bool) error {
	if p.SendSchedule != nil {
		if err := p.SendSchedule(); err != nil {
			return err
		}
	}
	return p.Inner.PostSend(payload, context, flush)
}

func (p *FaultInjectingProvider) PostReceive(buf []byte, context interface{}, morePost bool) error {
	if p.RecvSchedule != nil {
		if err := p.RecvSchedule(); err != nil {
			return err
		}
	}
	return p.Inner.PostReceive(buf, context, morePost)
}

func (p *FaultInjectingProvider) DrainCompletions(max int) ([]Completion, int, int) {
	return p.Inner.DrainCompletions(max)
}

func (p *FaultInjectingProvider) Close() error { return p.Inner.Close() }
