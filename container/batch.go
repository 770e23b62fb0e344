package container

import "time"

// batch accumulates deliveries until a count, byte or time bound is reached.
type batch struct {
	maxMessages int
	maxBytes    int
	timeout     time.Duration

	units  []*delivery
	bytes  int
	opened time.Time
}

func newBatch(p Properties) *batch {
	return &batch{
		maxMessages: p.MaxNumMessages,
		maxBytes:    p.MaxNumBytes,
		timeout:     p.BatchTimeout,
	}
}

func (b *batch) add(u *delivery, now time.Time) {
	if len(b.units) == 0 {
		b.opened = now
	}
	b.units = append(b.units, u)
	b.bytes += u.size
}

func (b *batch) len() int { return len(b.units) }

// full reports whether the count or byte bound has been reached.
func (b *batch) full() bool {
	if b.maxMessages > 0 && len(b.units) >= b.maxMessages {
		return true
	}
	return len(b.units) > 0 && b.bytes >= b.maxBytes
}

// deadline is when the time bound seals the batch; zero while empty.
func (b *batch) deadline() time.Time {
	if len(b.units) == 0 {
		return time.Time{}
	}
	return b.opened.Add(b.timeout)
}

func (b *batch) expired(now time.Time) bool {
	return len(b.units) > 0 && !now.Before(b.deadline())
}

func (b *batch) drain() []*delivery {
	out := b.units
	b.units = nil
	b.bytes = 0
	b.opened = time.Time{}
	return out
}
