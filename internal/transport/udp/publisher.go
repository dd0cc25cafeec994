// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"lfpscope/internal/transport"
)

// Row kinds carried in the packet header.
const (
	KindPower     uint8 = 0
	KindCoherence uint8 = 1
)

const headerSize = 4 + 8 + 1 + 1 + 2

/*
Packet Structure (BigEndian), one packet per channel or pair row:

	+-----------------+--------+-------+-----------------------------------+
	| Field           | Type   | Bytes | Description                       |
	+-----------------+--------+-------+-----------------------------------+
	| Sequence Number | uint32 | 4     | Per-publisher, one per packet     |
	| Timestamp       | int64  | 8     | Frame time, ns since epoch        |
	| Kind            | uint8  | 1     | 0 power, 1 coherence              |
	| Index           | uint8  | 1     | Source channel or pair index      |
	| Value Count     | uint16 | 2     | Number of floats (N)              |
	| Values          | f32[N] | N*4   | One value per frequency           |
	+-----------------+--------+-------+-----------------------------------+
*/

// Packet is one decoded row.
type Packet struct {
	Seq       uint32
	Timestamp int64
	Kind      uint8
	Index     uint8
	Values    []float32
}

// ParsePacket decodes one datagram.
func ParsePacket(b []byte) (Packet, error) {
	var p Packet
	if len(b) < headerSize {
		return p, fmt.Errorf("packet of %d bytes is shorter than the header: %w", len(b), io.ErrUnexpectedEOF)
	}
	p.Seq = binary.BigEndian.Uint32(b[0:4])
	p.Timestamp = int64(binary.BigEndian.Uint64(b[4:12]))
	p.Kind = b[12]
	p.Index = b[13]
	n := int(binary.BigEndian.Uint16(b[14:16]))
	if len(b)-headerSize != n*4 {
		return p, fmt.Errorf("packet declares %d values but carries %d bytes: %w", n, len(b)-headerSize, io.ErrUnexpectedEOF)
	}
	p.Values = make([]float32, n)
	if err := binary.Read(bytes.NewReader(b[headerSize:]), binary.BigEndian, p.Values); err != nil {
		return p, err
	}
	return p, nil
}

// Publisher implements transport.Transport. Send only records the latest
// frame; a goroutine sends it at its own interval, so a slow network never
// stalls the poller.
type Publisher struct {
	sender   *Sender
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	frameMu  sync.Mutex
	pending  *transport.Frame
	lastSent uint64

	sequenceNum  uint32
	f32Buffer    []float32
	packetBuffer *bytes.Buffer
}

// NewPublisher creates a publisher. A non-positive interval defaults to
// 33ms (~30Hz).
func NewPublisher(interval time.Duration, sender *Sender) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("UDP sender cannot be nil")
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
		logger.Warnf("invalid interval provided, defaulting to %s", interval)
	}
	return &Publisher{
		sender:       sender,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Send records frame as the next one to publish.
func (p *Publisher) Send(frame *transport.Frame) error {
	p.frameMu.Lock()
	p.pending = frame
	p.frameMu.Unlock()
	return nil
}

// Start begins the periodic publishing process. Subsequent calls are no-ops
// while running.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		logger.Warnf("publisher already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logger.Infof("publisher started (interval %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to exit.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	logger.Debugf("publisher stopped after %d packets", p.sequenceNum)
	return nil
}

// Close stops publishing, sends the pending frame if it has not gone out
// yet, and closes the sender.
func (p *Publisher) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	p.publish()
	return p.sender.Close()
}

// publish sends every row of the pending frame unless it went out already.
func (p *Publisher) publish() {
	p.frameMu.Lock()
	frame := p.pending
	p.frameMu.Unlock()
	if frame == nil || frame.Timestamp == 0 || uint64(frame.Timestamp) == p.lastSent {
		return
	}
	p.lastSent = uint64(frame.Timestamp)

	for i, row := range frame.Power {
		index := i
		if i < len(frame.Channels) {
			index = frame.Channels[i]
		}
		p.f32Buffer = append(p.f32Buffer[:0], row...)
		p.sendRow(frame.Timestamp, KindPower, uint8(index))
	}
	for i, row := range frame.Coherence {
		p.f32Buffer = p.f32Buffer[:0]
		for _, v := range row {
			p.f32Buffer = append(p.f32Buffer, float32(v))
		}
		p.sendRow(frame.Timestamp, KindCoherence, uint8(i))
	}
}

func (p *Publisher) sendRow(timestamp int64, kind, index uint8) {
	p.sequenceNum++
	p.packetBuffer.Reset()

	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, timestamp)
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, [2]uint8{kind, index})
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint16(len(p.f32Buffer)))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, p.f32Buffer)
	}
	if err != nil {
		logger.Errorf("packing packet %d: %v", p.sequenceNum, err)
		return
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		logger.Warnf("packet %d: %v", p.sequenceNum, err)
		return
	}
	logger.Debugf("sent packet %d (%d bytes)", p.sequenceNum, p.packetBuffer.Len())
}

// Ensure Publisher satisfies the transport interface at compile time.
var _ transport.Transport = (*Publisher)(nil)
