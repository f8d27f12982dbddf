package vex

import (
	"errors"
	"testing"

	"github.com/vexhttp/vex/internal/tests"
)

func TestQueueHoldsUntilDemand(t *testing.T) {
	q := NewRequestQueue()
	var delivered [][]*pendingRequest
	q.subscribe(func(batch []*pendingRequest) {
		delivered = append(delivered, batch)
	})

	q.push(&pendingRequest{ref: 1})
	q.push(&pendingRequest{ref: 2})
	tests.AssertEqual(t, 0, len(delivered))
	tests.AssertEqual(t, 2, q.len())

	q.ask(1)
	tests.AssertEqual(t, 1, len(delivered))
	tests.AssertEqual(t, 1, len(delivered[0]))
	tests.AssertEqual(t, Ref(1), delivered[0][0].ref)
	tests.AssertEqual(t, 1, q.len())
	tests.AssertEqual(t, uint32(0), q.outstanding())

	q.ask(5)
	tests.AssertEqual(t, 2, len(delivered))
	tests.AssertEqual(t, Ref(2), delivered[1][0].ref)
	tests.AssertEqual(t, uint32(4), q.outstanding())
}

func TestQueueDeliversOnPushWithDemand(t *testing.T) {
	q := NewRequestQueue()
	var got []*pendingRequest
	q.subscribe(func(batch []*pendingRequest) {
		got = append(got, batch...)
	})
	q.ask(3)
	q.push(&pendingRequest{ref: 1})
	tests.AssertEqual(t, 1, len(got))
	tests.AssertEqual(t, uint32(2), q.outstanding())
}

func TestQueueDemandSaturates(t *testing.T) {
	q := NewRequestQueue()
	q.subscribe(func([]*pendingRequest) {})
	q.ask(unboundedStreamDemand - 1)
	q.ask(100)
	tests.AssertEqual(t, uint32(unboundedStreamDemand), q.outstanding())
}

func TestQueueNoSubscriberBuffers(t *testing.T) {
	q := NewRequestQueue()
	q.push(&pendingRequest{ref: 1})
	q.ask(1)
	tests.AssertEqual(t, 1, q.len())
}

func TestQueueDrain(t *testing.T) {
	q := NewRequestQueue()
	q.subscribe(func([]*pendingRequest) {})
	q.push(&pendingRequest{ref: 1})
	q.push(&pendingRequest{ref: 2})

	cause := errors.New("teardown")
	var failed []Ref
	q.drain(func(p *pendingRequest, err error) {
		tests.AssertEqual(t, cause, err)
		failed = append(failed, p.ref)
	}, cause)
	tests.AssertEqual(t, []Ref{1, 2}, failed)
	tests.AssertEqual(t, 0, q.len())
	tests.AssertEqual(t, uint32(0), q.outstanding())
}
