package transfer

import (
	"context"
	"fmt"
	"sync"

	"wormdrop.dev/chunkstore"
	"wormdrop.dev/transport"
)

// Client is the receiving half of the transfer protocol: Idle ->
// Receiving(file, bytes) -> Idle. Accepted files that arrive while Host is
// already streaming another are recorded Queued and dequeued automatically
// as each transfer completes, per §4.4.
type Client struct {
	t     transport.Transport
	store chunkstore.Store

	mu       sync.Mutex
	catalog  map[string]FileEntry
	queue    []string
	current  string
	received int
	seq      int

	// OnUpdate, if set, is called after every catalog or progress change.
	OnUpdate func(FileEntry)
	// OnComplete, if set, is called once a file's chunks are fully
	// received and its meta record has been written.
	OnComplete func(uuid string)
	// OnCatalog, if set, is called with the full merged catalog every time
	// a Catalog text frame is received, letting a caller auto-accept newly
	// advertised files.
	OnCatalog func([]FileEntry)
}

// NewClient returns a Client that stages incoming chunks in store.
func NewClient(t transport.Transport, store chunkstore.Store) *Client {
	return &Client{t: t, store: store, catalog: make(map[string]FileEntry)}
}

// Catalog returns the receiver's current merged view of offered files.
func (c *Client) Catalog() []FileEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	files := make([]FileEntry, 0, len(c.catalog))
	for _, f := range c.catalog {
		files = append(files, f)
	}
	return files
}

// Accept requests file uuid. If the receiver is idle the request is sent
// immediately; otherwise it is queued and serviced once the in-flight
// transfer (and any already-queued ahead of it) completes.
func (c *Client) Accept(uuid string) error {
	c.mu.Lock()
	entry, known := c.catalog[uuid]
	if !known {
		c.mu.Unlock()
		return fmt.Errorf("transfer: unknown file %s", uuid)
	}
	idle := c.current == ""
	if idle {
		c.current = uuid
		entry.State = Transferring
	} else {
		entry.State = Queued
		c.queue = append(c.queue, uuid)
	}
	c.catalog[uuid] = entry
	c.mu.Unlock()

	if !idle {
		c.notify(entry)
		return nil
	}
	c.notify(entry)
	if entry.Size <= 0 {
		// Zero-byte file: completion is inferred immediately, with zero
		// chunks staged, per the boundary behavior in §8.
		return c.finish(uuid)
	}
	return c.sendRequest(uuid)
}

func (c *Client) sendRequest(uuid string) error {
	data, err := EncodeRequest(Request{UUID: uuid})
	if err != nil {
		return err
	}
	return c.t.SendText(string(data))
}

// Run drives the Client state machine from the transport's event stream
// until the channel closes or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-c.t.Events():
			if !ok {
				return nil
			}
			if err := c.handle(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) handle(ev transport.Event) error {
	switch ev.Kind {
	case transport.TextFrame:
		return c.onText([]byte(ev.Text))
	case transport.BinaryFrame:
		return c.onChunk(ev.Data)
	case transport.Closed:
		// Channel closes mid-transfer: partial chunks for the in-flight
		// file are abandoned, no resume attempted per §4.4.
		return nil
	default:
		return nil
	}
}

func (c *Client) onText(data []byte) error {
	kind, catalog, _, err := DecodeTextFrame(data)
	if err != nil || kind != FrameCatalog {
		return nil
	}
	c.mergeCatalog(catalog)
	if c.OnCatalog != nil {
		c.OnCatalog(c.Catalog())
	}
	return nil
}

// mergeCatalog union-merges a re-advertised catalog by uuid, leaving the
// state of any file already Transferring or Queued untouched.
func (c *Client) mergeCatalog(catalog Catalog) {
	c.mu.Lock()
	for _, f := range catalog.Files {
		if existing, ok := c.catalog[f.UUID]; ok {
			f.State = existing.State
			f.Progress = existing.Progress
		} else {
			f.State = Pending
		}
		c.catalog[f.UUID] = f
	}
	c.mu.Unlock()
}

func (c *Client) onChunk(data []byte) error {
	c.mu.Lock()
	uuid := c.current
	if uuid == "" {
		c.mu.Unlock()
		return nil
	}
	seq := c.seq
	c.seq++
	c.mu.Unlock()

	if err := chunkstore.PutChunk(c.store, uuid, seq, data); err != nil {
		return fmt.Errorf("transfer: staging chunk %d of %s: %w", seq, uuid, err)
	}

	c.mu.Lock()
	c.received += len(data)
	entry := c.catalog[uuid]
	entry.Progress = progressOf(c.received, entry.Size)
	c.catalog[uuid] = entry
	done := float64(c.received) >= entry.Size
	c.mu.Unlock()

	c.notify(entry)
	if done {
		return c.finish(uuid)
	}
	return nil
}

func progressOf(received int, size float64) float64 {
	if size <= 0 {
		return 1
	}
	return float64(received) / size
}

func (c *Client) finish(uuid string) error {
	c.mu.Lock()
	entry := c.catalog[uuid]
	seq := c.seq
	c.mu.Unlock()

	if err := chunkstore.PutMeta(c.store, uuid, chunkstore.FileMeta{Name: entry.Name, Chunks: seq}); err != nil {
		return fmt.Errorf("transfer: writing meta for %s: %w", uuid, err)
	}

	entry.State = Done
	entry.Progress = 1

	c.mu.Lock()
	c.catalog[uuid] = entry
	c.current = ""
	c.received = 0
	c.seq = 0
	var next string
	if len(c.queue) > 0 {
		next, c.queue = c.queue[0], c.queue[1:]
		c.current = next
		if f, ok := c.catalog[next]; ok {
			f.State = Transferring
			c.catalog[next] = f
		}
	}
	c.mu.Unlock()

	c.notify(entry)
	if c.OnComplete != nil {
		c.OnComplete(uuid)
	}
	if next != "" {
		return c.sendRequest(next)
	}
	return nil
}

func (c *Client) notify(entry FileEntry) {
	if c.OnUpdate != nil {
		c.OnUpdate(entry)
	}
}
