package mediatest

import "github.com/dkeye/Conference/internal/media"

type Producer struct {
	engine    *Engine
	transport *Transport
	id        string
	kind      media.Kind
	params    media.RtpParameters
	paused    bool
	closed    bool
	consumers map[string]*Consumer
	onClose   []func()
}

func (p *Producer) ID() string                         { return p.id }
func (p *Producer) Kind() media.Kind                   { return p.kind }
func (p *Producer) RtpParameters() media.RtpParameters { return p.params }

func (p *Producer) Paused() bool {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause() error  { return p.setPaused(true) }
func (p *Producer) Resume() error { return p.setPaused(false) }

func (p *Producer) setPaused(v bool) error {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	if p.closed {
		return media.ErrClosed
	}
	p.paused = v
	return nil
}

func (p *Producer) OnClose(fn func()) {
	p.engine.mu.Lock()
	if p.closed {
		p.engine.mu.Unlock()
		fn()
		return
	}
	p.onClose = append(p.onClose, fn)
	p.engine.mu.Unlock()
}

func (p *Producer) Close() {
	e := p.engine
	e.mu.Lock()
	if p.closed {
		e.mu.Unlock()
		return
	}
	p.closed = true
	delete(p.transport.producers, p.id)
	delete(p.transport.router.producers, p.id)
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	cbs := append([]func(){}, p.onClose...)
	e.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, fn := range cbs {
		fn()
	}
}

type Consumer struct {
	engine    *Engine
	transport *Transport
	producer  *Producer
	id        string
	params    media.RtpParameters
	paused    bool
	closed    bool
	onClose   []func()
}

func (c *Consumer) ID() string                         { return c.id }
func (c *Consumer) ProducerID() string                 { return c.producer.id }
func (c *Consumer) Kind() media.Kind                   { return c.producer.kind }
func (c *Consumer) RtpParameters() media.RtpParameters { return c.params }

func (c *Consumer) Paused() bool {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause() error  { return c.setPaused(true) }
func (c *Consumer) Resume() error { return c.setPaused(false) }

func (c *Consumer) setPaused(v bool) error {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if c.closed {
		return media.ErrClosed
	}
	c.paused = v
	return nil
}

func (c *Consumer) OnClose(fn func()) {
	c.engine.mu.Lock()
	if c.closed {
		c.engine.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.engine.mu.Unlock()
}

func (c *Consumer) Close() {
	e := c.engine
	e.mu.Lock()
	if c.closed {
		e.mu.Unlock()
		return
	}
	c.closed = true
	delete(c.producer.consumers, c.id)
	delete(c.transport.consumers, c.id)
	cbs := append([]func(){}, c.onClose...)
	e.mu.Unlock()

	for _, fn := range cbs {
		fn()
	}
}
