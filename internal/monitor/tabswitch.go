package monitor

import (
	"log"
	"os"
	ossignal "os/signal"
	"sync"
)

// Visibility is the page visibility state.
type Visibility int

const (
	Visible Visibility = iota
	Hidden
)

// VisibilitySource delivers visibility changes until closed.
type VisibilitySource interface {
	Changes() <-chan Visibility
	Close()
}

// TabSwitchMonitor counts transitions to hidden. It never acts on the count.
type TabSwitchMonitor struct {
	src      VisibilitySource
	onChange func(count int)

	mu    sync.Mutex
	count int

	closeOnce sync.Once
	done      chan struct{}
}

// New subscribes to src. onChange, if set, runs after every increment.
func New(src VisibilitySource, onChange func(count int)) *TabSwitchMonitor {
	m := &TabSwitchMonitor{
		src:      src,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go m.watch()
	return m
}

func (m *TabSwitchMonitor) watch() {
	defer close(m.done)
	for v := range m.src.Changes() {
		if v != Hidden {
			continue
		}
		m.mu.Lock()
		m.count++
		n := m.count
		m.mu.Unlock()

		log.Printf("[monitor] page hidden (%d)", n)
		if m.onChange != nil {
			m.onChange(n)
		}
	}
}

// Count returns the number of hide events seen.
func (m *TabSwitchMonitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Close unsubscribes and waits for pending events to be counted.
func (m *TabSwitchMonitor) Close() {
	m.closeOnce.Do(func() {
		m.src.Close()
		<-m.done
	})
}

// ChanSource is a VisibilitySource fed by Emit.
type ChanSource struct {
	ch   chan Visibility
	mu   sync.Mutex
	shut bool
}

// NewChanSource creates a buffered source.
func NewChanSource() *ChanSource {
	return &ChanSource{ch: make(chan Visibility, 64)}
}

func (s *ChanSource) Changes() <-chan Visibility { return s.ch }

// Emit delivers v. It is dropped once the source is closed.
func (s *ChanSource) Emit(v Visibility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shut {
		return
	}
	s.ch <- v
}

func (s *ChanSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shut {
		return
	}
	s.shut = true
	close(s.ch)
}

// SignalSource reports a hide event every time one of the given OS signals arrives.
type SignalSource struct {
	*ChanSource
	sigCh     chan os.Signal
	stop      chan struct{}
	closeOnce sync.Once
}

// NewSignalSource starts listening for sigs.
func NewSignalSource(sigs ...os.Signal) *SignalSource {
	s := &SignalSource{
		ChanSource: NewChanSource(),
		sigCh:      make(chan os.Signal, 8),
		stop:       make(chan struct{}),
	}
	ossignal.Notify(s.sigCh, sigs...)
	go func() {
		for {
			select {
			case <-s.stop:
				return
			case <-s.sigCh:
				s.Emit(Hidden)
				s.Emit(Visible)
			}
		}
	}()
	return s
}

func (s *SignalSource) Close() {
	s.closeOnce.Do(func() {
		ossignal.Stop(s.sigCh)
		close(s.stop)
		s.ChanSource.Close()
	})
}
