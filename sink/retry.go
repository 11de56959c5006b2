// Copyright 2024 Block, Inc.

package sink

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dbpoll/dbpoll"
)

const (
	DEFAULT_BUFFER_SIZE  = 5
	DEFAULT_SEND_TIMEOUT = 5 * time.Second
)

// RetryArgs are the arguments to NewRetry.
type RetryArgs struct {
	MonitorId   string
	Sink        dbpoll.Sink
	BufferSize  int
	SendTimeout time.Duration
}

// Retry buffers metrics in a LIFO stack and retries sending them with
// exponential backoff. Newest metrics are sent first. When the stack is full,
// the oldest metrics are dropped. Only one Send runs at a time; concurrent
// calls push their metrics and return immediately.
type Retry struct {
	monitorId   string
	sink        dbpoll.Sink
	sendTimeout time.Duration

	sendMux *sync.Mutex
	sending bool

	stackMux *sync.Mutex
	stack    []*dbpoll.Metrics
	max      int
	top      int
}

var _ dbpoll.Sink = &Retry{}

func NewRetry(args RetryArgs) *Retry {
	if args.BufferSize < 1 {
		args.BufferSize = DEFAULT_BUFFER_SIZE
	}
	if args.SendTimeout <= 0 {
		args.SendTimeout = DEFAULT_SEND_TIMEOUT
	}
	rb := &Retry{
		monitorId:   args.MonitorId,
		sink:        args.Sink,
		sendTimeout: args.SendTimeout,
		sendMux:     &sync.Mutex{},
		stackMux:    &sync.Mutex{},
		stack:       make([]*dbpoll.Metrics, args.BufferSize),
		max:         args.BufferSize - 1,
		top:         -1,
	}
	dbpoll.Debug("%s: %s buffer %d, send timeout %s", rb.monitorId, rb.sink.Name(), args.BufferSize, rb.sendTimeout)
	return rb
}

func (rb *Retry) Name() string {
	return rb.sink.Name()
}

// Close closes the wrapped sink if it implements io.Closer. Buffered metrics
// are not sent.
func (rb *Retry) Close() error {
	if c, ok := rb.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (rb *Retry) Send(ctx context.Context, m *dbpoll.Metrics) error {
	rb.push(m)

	rb.sendMux.Lock()
	if rb.sending {
		rb.sendMux.Unlock()
		return nil
	}
	rb.sending = true
	rb.sendMux.Unlock()

	defer func() {
		rb.sendMux.Lock()
		rb.sending = false
		rb.sendMux.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, rb.sendTimeout)
	defer cancel()

	bo := backoff.WithContext(newBackOff(), ctx)

	for {
		m := rb.peek()
		if m == nil {
			return nil
		}
		err := rb.sink.Send(ctx, m)
		if err == nil {
			rb.pop(m)
			bo.Reset()
			continue
		}
		dbpoll.Debug("%s: %s: error sending: %s", rb.monitorId, rb.sink.Name(), err)
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
}

func (rb *Retry) push(m *dbpoll.Metrics) {
	rb.stackMux.Lock()
	defer rb.stackMux.Unlock()
	if rb.top < rb.max {
		rb.top++
	} else {
		copy(rb.stack, rb.stack[1:]) // drop oldest
	}
	rb.stack[rb.top] = m
}

func (rb *Retry) peek() *dbpoll.Metrics {
	rb.stackMux.Lock()
	defer rb.stackMux.Unlock()
	if rb.top < 0 {
		return nil
	}
	return rb.stack[rb.top]
}

// pop removes m wherever it is in the stack. New metrics can be pushed while
// m is being sent, so m is not necessarily on top.
func (rb *Retry) pop(m *dbpoll.Metrics) {
	rb.stackMux.Lock()
	defer rb.stackMux.Unlock()
	k := -1
	for i := 0; i <= rb.top; i++ {
		if rb.stack[i] == m {
			k = i
			break
		}
	}
	if k == -1 {
		return // pushed off while sending
	}
	copy(rb.stack[k:], rb.stack[k+1:rb.top+1])
	rb.stack[rb.top] = nil
	rb.top--
}

// newBackOff returns the retry backoff: 100ms doubling to 1s, no elapsed
// time limit. Reset applies InitialInterval, which NewExponentialBackOff
// already consumed with its own default.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
