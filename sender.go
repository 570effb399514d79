package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/leesper/holmes"
)

// State is the connection state of a Sender.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

var errSinkFailed = errors.New("sink unreachable this cycle")

// Sender owns the single connection to the CoT sink. It is driven from one
// goroutine; only State may be called concurrently. A peer close noticed by
// the connection moves a Connected sender to Disconnected right away, so
// OnStateChange may also fire from a background goroutine.
//
// A Sender that failed to connect stays Failed, dropping events without
// dialing, until the next BeginCycle.
type Sender struct {
	dialer      Dialer
	dialTimeout time.Duration
	attempts    int

	// OnStateChange, when set, observes every transition.
	OnStateChange func(from, to State)

	mu    sync.Mutex
	state State
	conn  EventConn
}

func NewSender(d Dialer) *Sender {
	return &Sender{
		dialer:      d,
		dialTimeout: sinkDialTimeout,
		attempts:    1,
	}
}

// State returns the current connection state.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sender) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	holmes.Debugf("transport %s: %s -> %s", s.dialer, from, to)
	if s.OnStateChange != nil {
		s.OnStateChange(from, to)
	}
}

// BeginCycle re-arms a Failed sender so the cycle may dial again.
func (s *Sender) BeginCycle() {
	if s.State() == Failed {
		s.setState(Disconnected)
	}
}

// Send serializes ev and writes it to the sink, connecting first when
// needed. Any failure drops the event and is returned as *TransportError.
func (s *Sender) Send(ctx context.Context, ev *CotEvent) error {
	b, err := ev.Encode()
	if err != nil {
		return &TransportError{Op: "encode", Err: err}
	}
	switch s.State() {
	case Failed:
		return &TransportError{Op: "dial", Err: errSinkFailed}
	case Disconnected, Connecting:
		if err := s.connect(ctx); err != nil {
			return err
		}
	}
	if err := s.conn.WriteEvent(b); err != nil {
		s.drop()
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (s *Sender) connect(ctx context.Context) error {
	_ = s.release()
	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		s.setState(Connecting)
		dctx, cancel := context.WithTimeout(ctx, s.dialTimeout)
		conn, err := s.dialer.Dial(dctx)
		cancel()
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
			s.setState(Connected)
			holmes.Infof("connected to %s", s.dialer)
			if cn, ok := conn.(closeNotifier); ok {
				go s.watch(conn, cn.Done())
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	s.setState(Failed)
	return &TransportError{Op: "dial", Err: lastErr}
}

// watch marks the sender Disconnected when conn closes underneath it while
// it is still the current connection.
func (s *Sender) watch(conn EventConn, done <-chan struct{}) {
	<-done
	s.mu.Lock()
	if s.conn != conn || s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.state = Disconnected
	s.mu.Unlock()
	holmes.Infof("%s closed by peer", s.dialer)
	if s.OnStateChange != nil {
		s.OnStateChange(Connected, Disconnected)
	}
}

// release detaches and closes the current connection, if any.
func (s *Sender) release() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Sender) drop() {
	if err := s.release(); err != nil {
		holmes.Debugf("close %s: %v", s.dialer, err)
	}
	s.setState(Disconnected)
}

// Close releases the connection. The Sender may be reused afterwards.
func (s *Sender) Close() error {
	err := s.release()
	s.setState(Disconnected)
	return err
}
