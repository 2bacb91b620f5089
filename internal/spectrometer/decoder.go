package spectrometer

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const maxPending = 64 << 10

var docMarker = []byte("<?xml")

// Notification is the part of a status document the driver acts on.
type Notification struct {
	HasProgress      bool
	Percentage       int
	SecondsRemaining int
	Completion       *Completion
}

// Completion is the payload of a Completed notice. Completed is false for
// runs the spectrometer cut short, such as an aborted shim.
type Completion struct {
	Completed  bool
	Successful bool
}

type statusDocument struct {
	Status *struct {
		Progress *struct {
			Percentage       string `xml:"percentage,attr"`
			SecondsRemaining string `xml:"secondsRemaining,attr"`
		} `xml:"Progress"`
		Completed *struct {
			Completed  string `xml:"completed,attr"`
			Successful string `xml:"successful,attr"`
		} `xml:"Completed"`
	} `xml:"StatusNotification"`
}

// Decoder splits the status stream into documents. A trailing document that
// is cut off mid-read is kept and completed by the next Feed.
type Decoder struct {
	pending []byte
}

// Feed consumes one read from the socket. Documents that cannot be parsed
// are reported in errs and dropped.
func (d *Decoder) Feed(chunk []byte) (notes []Notification, errs []error) {
	data := append(d.pending, chunk...)
	d.pending = nil
	held := heldMarker(data)
	tail := append([]byte(nil), data[len(data)-held:]...)
	data = data[:len(data)-held]
	defer func() {
		d.pending = append(d.pending, tail...)
	}()

	segments := split(data)
	for i, segment := range segments {
		if len(bytes.TrimSpace(segment)) == 0 {
			continue
		}
		note, ok, err := parseDocument(segment)
		if err != nil {
			if i == len(segments)-1 && truncated(err) {
				if len(segment) > maxPending {
					errs = append(errs, fmt.Errorf("status document exceeds %d bytes, dropped", maxPending))
					continue
				}
				d.pending = append([]byte(nil), segment...)
				continue
			}
			errs = append(errs, fmt.Errorf("decode status %q: %w", preview(segment), err))
			continue
		}
		if ok {
			notes = append(notes, note)
		}
	}
	return notes, errs
}

// Reset discards any partial document.
func (d *Decoder) Reset() {
	d.pending = nil
}

// heldMarker returns the length of a trailing partial "<?xml" marker.
func heldMarker(data []byte) int {
	for n := min(len(docMarker)-1, len(data)); n > 0; n-- {
		if bytes.HasSuffix(data, docMarker[:n]) {
			return n
		}
	}
	return 0
}

func split(data []byte) [][]byte {
	var segments [][]byte
	for len(data) > 0 {
		next := bytes.Index(data[1:], docMarker)
		if next < 0 {
			return append(segments, data)
		}
		segments = append(segments, data[:next+1])
		data = data[next+1:]
	}
	return segments
}

func parseDocument(segment []byte) (Notification, bool, error) {
	var doc statusDocument
	if err := xml.Unmarshal(segment, &doc); err != nil {
		return Notification{}, false, err
	}
	if doc.Status == nil {
		return Notification{}, false, nil
	}
	var note Notification
	if p := doc.Status.Progress; p != nil {
		percent, err := parseNumber(p.Percentage)
		if err != nil {
			return Notification{}, false, fmt.Errorf("progress percentage: %w", err)
		}
		seconds, err := parseNumber(p.SecondsRemaining)
		if err != nil {
			return Notification{}, false, fmt.Errorf("progress secondsRemaining: %w", err)
		}
		note.HasProgress = true
		note.Percentage = clamp(int(math.Round(percent)), 0, 100)
		note.SecondsRemaining = max(int(math.Round(seconds)), 0)
	}
	if c := doc.Status.Completed; c != nil {
		note.Completion = &Completion{
			Completed:  strings.EqualFold(c.Completed, "true"),
			Successful: strings.EqualFold(c.Successful, "true"),
		}
	}
	return note, note.HasProgress || note.Completion != nil, nil
}

func parseNumber(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(value, 64)
}

func truncated(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var syntax *xml.SyntaxError
	return errors.As(err, &syntax) && strings.Contains(syntax.Msg, "unexpected EOF")
}

func clamp(value, lo, hi int) int {
	return min(max(value, lo), hi)
}

func preview(segment []byte) string {
	const limit = 120
	text := strings.TrimSpace(string(segment))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
