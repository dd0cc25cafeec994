// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	applog "lfpscope/internal/log"
)

var logger = applog.For("udp")

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("udp: sender closed")

// Sender writes datagrams to one connected peer. Send and Close may be
// called from different goroutines.
type Sender struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	target *net.UDPAddr
	closed bool
}

// NewSender resolves host:port and connects to it.
func NewSender(addr string) (*Sender, error) {
	target, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp target %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, target)
	if err != nil {
		return nil, fmt.Errorf("udp dial %q: %w", addr, err)
	}
	logger.Infof("sending to %s", conn.RemoteAddr())
	return &Sender{conn: conn, target: target}, nil
}

// Target returns the resolved destination.
func (s *Sender) Target() *net.UDPAddr { return s.target }

// Send writes one datagram.
func (s *Sender) Send(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.conn.Write(packet)
	if err != nil {
		return fmt.Errorf("udp send: %w", err)
	}
	return nil
}

// Close is idempotent.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	logger.Debugf("closing connection to %s", s.target)
	return s.conn.Close()
}
