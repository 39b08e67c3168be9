// Package trace records every event observed on a device's bus as a
// stream of JSON lines, for post-run inspection of a scenario (which
// adjacencies formed, which routes changed, which packets an ICMP
// unreachable was sent for, and when).
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/klauspost/compress/zstd"

	"github.com/routersimlab/netsim/internal/eventbus"
)

// Record is one traced event, flattened to plain JSON-friendly fields.
type Record struct {
	When    int64  `json:"when"`
	Device  string `json:"device"`
	Kind    string `json:"kind"`
	SubKind string `json:"sub_kind,omitempty"`
	Source  string `json:"source,omitempty"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message,omitempty"`
}

// Writer appends Records as newline-delimited JSON to an underlying
// io.WriteCloser, optionally zstd-compressed, up to an optional size cap.
type Writer struct {
	device string
	enc    *json.Encoder
	closer io.Closer
	cap    *capped
}

// NewFileWriter opens path for the given device's trace output. When
// compress is true the file is written as a zstd stream; the caller is
// expected to use a ".zst" suffix in that case. Once maxSize bytes have
// been written, further events are silently dropped rather than risk
// filling the disk during a long or looping scenario; maxSize of 0 means
// unlimited.
func NewFileWriter(path, device string, compress bool, maxSize ...datasize.ByteSize) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}

	var (
		w      io.WriteCloser = f
		closer io.Closer      = f
	)
	if compress {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("trace: zstd writer: %w", err)
		}
		w = zw
		closer = multiCloser{zw, f}
	}

	var limit uint64
	if len(maxSize) > 0 {
		limit = maxSize[0].Bytes()
	}
	cw := &capped{w: w, limit: limit}

	return &Writer{device: device, enc: json.NewEncoder(cw), closer: closer, cap: cw}, nil
}

// Close flushes and closes the underlying stream(s).
func (w *Writer) Close() error { return w.closer.Close() }

// Listener returns an eventbus.Listener suitable for registration under
// eventbus.Wildcard, writing one Record per observed event.
func (w *Writer) Listener() eventbus.Listener {
	return func(evt eventbus.Event) {
		rec := Record{
			When:    evt.When,
			Device:  w.device,
			Kind:    evt.Kind.String(),
			Message: evt.Message,
		}
		if s, ok := evt.SubKind.(fmt.Stringer); ok {
			rec.SubKind = s.String()
		}
		if s, ok := evt.Source.(string); ok {
			rec.Source = s
		}
		if s, ok := evt.Target.(string); ok {
			rec.Target = s
		}
		// Encoding errors here mean the trace file is unusable; there is
		// no recovery available from inside a bus callback, so they are
		// dropped rather than panicking the simulation.
		_ = w.enc.Encode(rec)
	}
}

// Attach registers w's listener on bus under Wildcard.
func (w *Writer) Attach(bus *eventbus.Bus) {
	bus.Listen(eventbus.Wildcard, w.Listener())
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var err error
	for _, c := range m {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// capped wraps an io.Writer, discarding writes once limit bytes (0 means
// unlimited) have already been written.
type capped struct {
	w       io.Writer
	limit   uint64
	written uint64
	tripped bool
}

func (c *capped) Write(p []byte) (int, error) {
	if c.limit != 0 && c.written >= c.limit {
		c.tripped = true
		return len(p), nil
	}
	n, err := c.w.Write(p)
	c.written += uint64(n)
	return n, err
}
