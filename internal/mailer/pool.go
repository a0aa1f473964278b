package mailer

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrPoolClosed is returned by Send after Close.
var ErrPoolClosed = errors.New("mailer: pool closed")

type job struct {
	ctx    context.Context
	msg    *Message
	result chan error
}

// Pool sends through a fixed number of workers, bounding concurrent sessions with the
// relay. Send blocks until a worker has delivered the message.
type Pool struct {
	transport Transport
	jobs      chan job
	logger    *log.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines delivering through transport. Workers below 1 means 1.
func NewPool(transport Transport, workers int, logger *log.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Pool{
		transport: transport,
		jobs:      make(chan job),
		logger:    logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		if err := j.ctx.Err(); err != nil {
			j.result <- err
			continue
		}
		err := p.transport.Send(j.ctx, j.msg)
		if err != nil {
			p.logger.Printf("mailer: worker %d: send %s failed: %v", id, j.msg.MessageID, err)
		}
		j.result <- err
	}
}

// Send implements Transport.
func (p *Pool) Send(ctx context.Context, msg *Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	j := job{ctx: ctx, msg: msg, result: make(chan error, 1)}
	select {
	case p.jobs <- j:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	// The worker always answers, so a message handed over is never reported as unsent while
	// it may still be delivered.
	return <-j.result
}

// Close stops accepting messages and waits for in-flight sends.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
