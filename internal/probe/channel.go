package probe

import "sync"

// Channel carries the single result of one attempt from its worker to the
// poller. Each attempt owns a fresh Channel; after Seal, posts are dropped,
// so a killed worker can never deliver into a later attempt.
type Channel struct {
	id AttemptID
	ch chan Result

	mu     sync.Mutex
	posted bool
	sealed bool
}

// NewChannel returns an empty channel bound to attempt id.
func NewChannel(id AttemptID) *Channel {
	return &Channel{id: id, ch: make(chan Result, 1)}
}

// Attempt returns the attempt the channel belongs to.
func (c *Channel) Attempt() AttemptID { return c.id }

// Post delivers r. It never blocks. Only the first post on an unsealed
// channel is kept; the return value reports whether r was accepted. The
// attempt ID of r is overwritten with the channel's own.
func (c *Channel) Post(r Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.posted || c.sealed {
		return false
	}
	c.posted = true
	r.Attempt = c.id
	c.ch <- r
	return true
}

// Seal rejects all further posts.
func (c *Channel) Seal() {
	c.mu.Lock()
	c.sealed = true
	c.mu.Unlock()
}

// Receive returns the channel the result is delivered on.
func (c *Channel) Receive() <-chan Result { return c.ch }
