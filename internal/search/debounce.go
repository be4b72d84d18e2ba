package search

import (
	"sync"
	"time"
)

const DefaultQuietPeriod = 500 * time.Millisecond

// Debouncer calls fire with the latest input once no new input has arrived
// for the quiet period. Every Input restarts the timer.
type Debouncer struct {
	mu      sync.Mutex
	quiet   time.Duration
	timer   *time.Timer
	pending string
	seq     uint64
	stopped bool
	fire    func(input string)
}

func NewDebouncer(quiet time.Duration, fire func(input string)) *Debouncer {
	return &Debouncer{quiet: quiet, fire: fire}
}

func (d *Debouncer) Input(input string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending = input
	d.seq++
	seq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.quiet, func() { d.flush(seq) })
}

// Stop drops any pending input. Input after Stop is ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// flush ignores timers that were reset after they had already fired.
func (d *Debouncer) flush(seq uint64) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}

	input := d.pending
	d.timer = nil
	d.mu.Unlock()

	d.fire(input)
}
