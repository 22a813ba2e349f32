package recovery

import (
	"context"

	"template-studio/internal/domain/entity"
)

type request struct {
	ctx    context.Context
	key    entity.BackupKey
	future *Future
}

// enqueueLocked appends req. When the queue is at capacity the oldest request
// that is not for the priority key is evicted and returned. ok is false when
// nothing could be evicted and req was not queued. Callers hold c.mu.
func (c *Coordinator) enqueueLocked(req *request) (dropped *request, ok bool) {
	if len(c.queue) < c.maxQueueDepth {
		c.queue = append(c.queue, req)
		return nil, true
	}

	for i, queued := range c.queue {
		if c.isPriorityLocked(queued.key) {
			continue
		}
		dropped = queued
		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		c.queue = append(c.queue, req)
		return dropped, true
	}
	return nil, false
}

// dequeueLocked removes the next request: the first one for the priority key
// if any is queued, else the oldest. Servicing the priority key clears it.
// Callers hold c.mu.
func (c *Coordinator) dequeueLocked() *request {
	if len(c.queue) == 0 {
		return nil
	}

	if c.priorityKey != "" {
		for i, queued := range c.queue {
			if c.isPriorityLocked(queued.key) {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				c.priorityKey = ""
				return queued
			}
		}
	}

	next := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return next
}

func (c *Coordinator) isPriorityLocked(key entity.BackupKey) bool {
	return c.priorityKey != "" && key.String() == c.priorityKey
}
