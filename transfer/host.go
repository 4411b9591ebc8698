package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"wormdrop.dev/transport"
)

// Backpressure watermarks for the sender, per the protocol's explicit
// two-watermark contract: 1 MiB high, 256 KiB low.
const (
	HighWatermark = 1 << 20
	LowWatermark  = 256 << 10
)

// Opener produces a fresh, independently-closable reader over one file's
// bytes, used by Host to stream it on request.
type Opener func() (io.ReadCloser, error)

// hostFile pairs a catalog entry with the means to read its bytes.
type hostFile struct {
	entry FileEntry
	open  Opener
}

// Host is the sending half of the transfer protocol: Idle ->
// Streaming(file, offset) -> Idle, one file in flight at a time. A second
// Request arriving while busy is simply left buffered on the transport's
// event channel until the current file completes — the channel itself is
// the queue, so Host carries no separate queueing state.
type Host struct {
	t transport.Transport

	mu     sync.Mutex
	files  map[string]*hostFile
	opened bool
}

// NewHost returns a Host that will advertise and serve files added via Add.
func NewHost(t transport.Transport) *Host {
	return &Host{t: t, files: make(map[string]*hostFile)}
}

// Add registers a file under entry.UUID, advertising it in the next
// Catalog. open is called once per Request for that file. The working set
// changes whenever Add is called, so a Catalog is re-sent immediately if
// the data channel is already open; before that, the initial advertise on
// transport.Opened already covers every file added so far.
func (h *Host) Add(entry FileEntry, open Opener) error {
	entry.State = Pending
	h.mu.Lock()
	h.files[entry.UUID] = &hostFile{entry: entry, open: open}
	opened := h.opened
	h.mu.Unlock()
	if !opened {
		return nil
	}
	return h.advertise()
}

// Catalog returns the current advertised file list.
func (h *Host) Catalog() Catalog {
	h.mu.Lock()
	defer h.mu.Unlock()
	files := make([]FileEntry, 0, len(h.files))
	for _, f := range h.files {
		files = append(files, f.entry)
	}
	return Catalog{Files: files}
}

func (h *Host) advertise() error {
	data, err := EncodeCatalog(h.Catalog())
	if err != nil {
		return err
	}
	return h.t.SendText(string(data))
}

// Run drives the Host state machine from the transport's event stream
// until the channel closes or ctx is done.
func (h *Host) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-h.t.Events():
			if !ok {
				return nil
			}
			if err := h.handle(ctx, ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Host) handle(ctx context.Context, ev transport.Event) error {
	switch ev.Kind {
	case transport.Opened:
		h.mu.Lock()
		h.opened = true
		h.mu.Unlock()
		return h.advertise()
	case transport.TextFrame:
		kind, _, req, err := DecodeTextFrame([]byte(ev.Text))
		if err != nil || kind != FrameRequest {
			return nil
		}
		return h.onRequest(ctx, req.UUID)
	case transport.Closed:
		return nil
	default:
		return nil
	}
}

func (h *Host) onRequest(ctx context.Context, uuid string) error {
	h.mu.Lock()
	f, ok := h.files[uuid]
	h.mu.Unlock()
	if !ok {
		// Unknown uuid: re-advertise and stay Idle, no bytes streamed.
		return h.advertise()
	}
	return h.stream(ctx, f)
}

func (h *Host) stream(ctx context.Context, f *hostFile) error {
	h.setState(f.entry.UUID, Transferring, 0)

	r, err := f.open()
	if err != nil {
		return fmt.Errorf("transfer: opening %s: %w", f.entry.UUID, err)
	}
	defer r.Close()

	size := f.entry.Size
	var offset float64
	buf := make([]byte, ChunkSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := h.t.AwaitDrain(ctx, HighWatermark, LowWatermark); err != nil {
				return err
			}
			if err := h.t.Send(buf[:n]); err != nil {
				return fmt.Errorf("transfer: sending chunk of %s: %w", f.entry.UUID, err)
			}
			offset += float64(n)
			h.setState(f.entry.UUID, Transferring, offset/maxFloat(size, 1))
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("transfer: reading %s: %w", f.entry.UUID, readErr)
		}
	}
	h.setState(f.entry.UUID, Done, 1)
	return nil
}

func (h *Host) setState(uuid string, state FileState, progress float64) {
	h.mu.Lock()
	if f, ok := h.files[uuid]; ok {
		f.entry.State = state
		f.entry.Progress = progress
	}
	h.mu.Unlock()
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
