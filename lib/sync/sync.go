// Package sync wraps the standard library's sync primitives with optional
// logging of locks held (and, for RWMutex and WaitGroup, waited on) for
// longer than a threshold. In this engine it backs the store's
// identifier-allocation mutex; the resources-root and per-resource locks
// are file locks from internal/dirlock and are not instrumented here.
package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/ao-apps/ao-cdn-data/lib/logger"
)

var (
	debug     = false
	threshold = 100 * time.Millisecond
	l         = logger.DefaultLogger
	facility  = l.NewFacility("sync", "slow lock acquisitions")
)

type Mutex interface {
	Lock()
	Unlock()
}

type RWMutex interface {
	Mutex
	RLock()
	RUnlock()
}

type WaitGroup interface {
	Add(int)
	Done()
	Wait()
}

// NewMutex returns a plain sync.Mutex, or a logging wrapper when the
// package-level debug variable is set. The wrapper logs through the
// "sync" facility, so its messages appear only when that facility's debug
// output is enabled.
func NewMutex() Mutex {
	if debug {
		return &loggedMutex{}
	}
	return &sync.Mutex{}
}

func NewRWMutex() RWMutex {
	if debug {
		return &loggedRWMutex{}
	}
	return &sync.RWMutex{}
}

func NewWaitGroup() WaitGroup {
	if debug {
		return &loggedWaitGroup{}
	}
	return &sync.WaitGroup{}
}

type loggedMutex struct {
	mut    sync.Mutex
	locked time.Time
}

func (m *loggedMutex) Lock() {
	m.mut.Lock()
	m.locked = time.Now()
}

func (m *loggedMutex) Unlock() {
	d := time.Since(m.locked)
	m.mut.Unlock()
	if d > threshold {
		facility.Debugln(fmt.Sprintf("Mutex held for %v", d))
	}
}

type loggedRWMutex struct {
	mut    sync.RWMutex
	locked time.Time
}

func (m *loggedRWMutex) Lock() {
	t0 := time.Now()
	m.mut.Lock()
	m.locked = time.Now()
	if d := m.locked.Sub(t0); d > threshold {
		facility.Debugln(fmt.Sprintf("Lock wait %v", d))
	}
}

func (m *loggedRWMutex) Unlock() {
	d := time.Since(m.locked)
	m.mut.Unlock()
	if d > threshold {
		facility.Debugln(fmt.Sprintf("Mutex held for %v", d))
	}
}

func (m *loggedRWMutex) RLock()   { m.mut.RLock() }
func (m *loggedRWMutex) RUnlock() { m.mut.RUnlock() }

type loggedWaitGroup struct {
	wg sync.WaitGroup
}

func (wg *loggedWaitGroup) Add(n int)  { wg.wg.Add(n) }
func (wg *loggedWaitGroup) Done()      { wg.wg.Done() }
func (wg *loggedWaitGroup) Wait() {
	t0 := time.Now()
	wg.wg.Wait()
	if d := time.Since(t0); d > threshold {
		facility.Debugln(fmt.Sprintf("WaitGroup wait %v", d))
	}
}
