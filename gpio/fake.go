package gpio

import (
	"sync"
)

type pinKey struct {
	port Port
	n    int
}

type pinState struct {
	mode  Mode
	speed Speed
	level bool
	set   bool // configured at least once
}

// Fake is an in-memory Controller for host builds and tests. Watchers are
// called, outside the lock, whenever a watched pin changes level.
type Fake struct {
	mu       sync.Mutex
	pins     map[pinKey]*pinState
	watchers map[pinKey][]func(high bool)
	writes   int
}

// NewFake returns an empty controller. Unconfigured pins read low.
func NewFake() *Fake {
	return &Fake{
		pins:     make(map[pinKey]*pinState),
		watchers: make(map[pinKey][]func(bool)),
	}
}

func (f *Fake) state(k pinKey) *pinState {
	st, ok := f.pins[k]
	if !ok {
		st = &pinState{}
		f.pins[k] = st
	}
	return st
}

func eachPin(port Port, mask Mask, fn func(k pinKey)) {
	for n := 0; n < 16; n++ {
		if mask&(1<<uint(n)) != 0 {
			fn(pinKey{port: port, n: n})
		}
	}
}

// Configure implements Controller.
func (f *Fake) Configure(port Port, mask Mask, mode Mode, speed Speed) {
	f.mu.Lock()
	eachPin(port, mask, func(k pinKey) {
		st := f.state(k)
		st.mode = mode
		st.speed = speed
		st.set = true
	})
	f.mu.Unlock()
}

// Set implements Controller.
func (f *Fake) Set(port Port, mask Mask, high bool) {
	var fire []func(bool)
	f.mu.Lock()
	f.writes++
	eachPin(port, mask, func(k pinKey) {
		st := f.state(k)
		if st.level != high {
			fire = append(fire, f.watchers[k]...)
		}
		st.level = high
	})
	f.mu.Unlock()
	for _, fn := range fire {
		fn(high)
	}
}

// Mode returns the configured mode and speed of p. ok is false if p was
// never configured.
func (f *Fake) Mode(p Pin) (mode Mode, speed Speed, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, found := f.pins[pinKey{port: p.Port, n: p.Number()}]
	if !found || !st.set {
		return 0, 0, false
	}
	return st.mode, st.speed, true
}

// Level returns the last level driven on p.
func (f *Fake) Level(p Pin) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.pins[pinKey{port: p.Port, n: p.Number()}]
	return ok && st.level
}

// Writes returns the number of Set calls seen.
func (f *Fake) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Watch registers fn to be called on level changes of p.
func (f *Fake) Watch(p Pin, fn func(high bool)) {
	f.mu.Lock()
	k := pinKey{port: p.Port, n: p.Number()}
	f.watchers[k] = append(f.watchers[k], fn)
	f.mu.Unlock()
}
