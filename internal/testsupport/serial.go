package testsupport

import (
	"errors"
	"sync"
	"time"
)

// ErrFakePortClosed is returned by FakePort after Close.
var ErrFakePortClosed = errors.New("fake port closed")

// FakePort is an in-memory serial port. Bytes queued with Emit are returned
// by Read; Read returns 0, nil when nothing is pending, like a tty with a
// short read timeout.
type FakePort struct {
	mu       sync.Mutex
	inbound  []byte
	written  []string
	closed   bool
	readErr  error
	opens    int
	respond  func(command string) string
	openFail error
}

// NewFakePort returns an empty fake.
func NewFakePort() *FakePort {
	return &FakePort{}
}

// Respond installs a reply function called for every Write. Its return value
// is queued as if the controller had sent it.
func (p *FakePort) Respond(fn func(command string) string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.respond = fn
}

// Emit queues bytes for the next Read.
func (p *FakePort) Emit(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = append(p.inbound, data...)
}

// FailReads makes every subsequent Read return err.
func (p *FakePort) FailReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// FailOpen makes Open return err.
func (p *FakePort) FailOpen(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openFail = err
}

// Open reopens the fake, clearing the closed flag. Drivers wrap it in their
// own opener type.
func (p *FakePort) Open() (*FakePort, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openFail != nil {
		return nil, p.openFail
	}
	p.closed = false
	p.readErr = nil
	p.opens++
	return p, nil
}

// Opens counts successful Open calls.
func (p *FakePort) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrFakePortClosed
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	n := copy(b, p.inbound)
	p.inbound = p.inbound[n:]
	return n, nil
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrFakePortClosed
	}
	command := string(b)
	p.written = append(p.written, command)
	respond := p.respond
	p.mu.Unlock()
	if respond != nil {
		if reply := respond(command); reply != "" {
			p.Emit(reply)
		}
	}
	return len(b), nil
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called since the last Open.
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePort) SetReadTimeout(time.Duration) error { return nil }

// Written returns the commands written so far.
func (p *FakePort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}
