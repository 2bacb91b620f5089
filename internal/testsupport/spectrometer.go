package testsupport

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	userFolderPattern = regexp.MustCompile(`<UserFolder>(.*?)</UserFolder>`)
	protocolPattern   = regexp.MustCompile(`<Start protocol='([^']*)'`)
)

// FakeRequest is one <Message> received by FakeSpectrometer.
type FakeRequest struct {
	Raw      string
	Start    bool
	Abort    bool
	Protocol string
	// Folder is the last UserFolder set before this message.
	Folder string
}

// FakeSpectrometer is an in-process TCP server speaking enough of the
// remote control protocol for driver and orchestrator tests.
type FakeSpectrometer struct {
	t  testing.TB
	ln net.Listener

	mu       sync.Mutex
	conn     net.Conn
	accepted int
	requests []FakeRequest
	folder   string
	handler  func(*FakeSpectrometer, FakeRequest)
}

// NewFakeSpectrometer listens on a loopback port until the test ends.
func NewFakeSpectrometer(t testing.TB) *FakeSpectrometer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &FakeSpectrometer{t: t, ln: ln}
	go f.acceptLoop()
	t.Cleanup(func() {
		_ = ln.Close()
		f.DropConnection()
	})
	return f
}

// Addr returns the host and port to dial.
func (f *FakeSpectrometer) Addr() (string, int) {
	addr := f.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// Address returns host:port.
func (f *FakeSpectrometer) Address() string {
	host, port := f.Addr()
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Handle installs the reaction to incoming messages.
func (f *FakeSpectrometer) Handle(fn func(*FakeSpectrometer, FakeRequest)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

// Send writes a raw status document to the connected client.
func (f *FakeSpectrometer) Send(doc string) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("fake spectrometer: no client")
	}
	_, err := conn.Write([]byte(doc))
	return err
}

// DropConnection closes the client socket, as a crashing host would.
func (f *FakeSpectrometer) DropConnection() {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Accepted counts client connections.
func (f *FakeSpectrometer) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

// Requests returns the messages received so far.
func (f *FakeSpectrometer) Requests() []FakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeRequest(nil), f.requests...)
}

// Starts returns the received Start messages.
func (f *FakeSpectrometer) Starts() []FakeRequest {
	var starts []FakeRequest
	for _, req := range f.Requests() {
		if req.Start {
			starts = append(starts, req)
		}
	}
	return starts
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func (f *FakeSpectrometer) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.Close()
		}
		f.conn = conn
		f.accepted++
		f.mu.Unlock()
		go f.readLoop(conn)
	}
}

func (f *FakeSpectrometer) readLoop(conn net.Conn) {
	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				end := bytes.Index(pending, []byte("</Message>"))
				if end < 0 {
					break
				}
				cut := end + len("</Message>")
				f.receive(string(pending[:cut]))
				pending = pending[cut:]
			}
		}
		if err != nil {
			return
		}
	}
}

func (f *FakeSpectrometer) receive(raw string) {
	f.mu.Lock()
	if m := userFolderPattern.FindStringSubmatch(raw); m != nil {
		f.folder = m[1]
	}
	req := FakeRequest{
		Raw:    raw,
		Start:  strings.Contains(raw, "<Start "),
		Abort:  strings.Contains(raw, "<Abort"),
		Folder: f.folder,
	}
	if m := protocolPattern.FindStringSubmatch(raw); m != nil {
		req.Protocol = m[1]
	}
	f.requests = append(f.requests, req)
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(f, req)
	}
}

// ProgressDoc builds a progress status document.
func ProgressDoc(percent, secondsRemaining int) string {
	return fmt.Sprintf("<?xml version='1.0' encoding='UTF-8'?><Message><StatusNotification>"+
		"<Progress percentage='%d' secondsRemaining='%d'/></StatusNotification></Message>", percent, secondsRemaining)
}

// CompletedDoc builds a completion status document.
func CompletedDoc(completed, successful bool) string {
	return fmt.Sprintf("<?xml version='1.0' encoding='UTF-8'?><Message><StatusNotification>"+
		"<Completed completed='%t' successful='%t'/></StatusNotification></Message>", completed, successful)
}

// SucceedRuns answers every Start by writing artifacts into the run folder,
// reporting progress and then a successful completion. Aborts are answered
// with an incomplete completion.
func SucceedRuns(artifacts ...string) func(*FakeSpectrometer, FakeRequest) {
	return func(f *FakeSpectrometer, req FakeRequest) {
		switch {
		case req.Start:
			if req.Folder != "" {
				if err := os.MkdirAll(req.Folder, 0o755); err == nil {
					for _, artifact := range artifacts {
						_ = os.WriteFile(filepath.Join(req.Folder, artifact), []byte("ok"), 0o644)
					}
				}
			}
			_ = f.Send(ProgressDoc(50, 1) + CompletedDoc(true, true))
		case req.Abort:
			_ = f.Send(CompletedDoc(false, false))
		}
	}
}

// FailRuns answers every Start with an unsuccessful completion.
func FailRuns() func(*FakeSpectrometer, FakeRequest) {
	return func(f *FakeSpectrometer, req FakeRequest) {
		if req.Start {
			_ = f.Send(CompletedDoc(true, false))
		}
	}
}

// StallRuns never completes a Start, but answers aborts.
func StallRuns() func(*FakeSpectrometer, FakeRequest) {
	return func(f *FakeSpectrometer, req FakeRequest) {
		if req.Start {
			_ = f.Send(ProgressDoc(10, 3600))
		}
		if req.Abort {
			_ = f.Send(CompletedDoc(false, false))
		}
	}
}
