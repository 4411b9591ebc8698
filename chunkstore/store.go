// Package chunkstore implements the receiver-side keyed blob store named in
// the system's scope: a durable, ordered, prefix-scannable place to stage
// incoming chunks before assembling them into the original file. Its
// interface mirrors a browser's IndexedDB object store (put by key, open a
// cursor over a key range, delete a range) — the contract the spec treats
// the receiver's storage primitive as.
package chunkstore

import (
	"encoding/json"
	"fmt"
	"sort"
)

// chunkKey and metaKey implement the key scheme from the data model: chunk
// records are keyed "$" + uuid + "-$" + seq, and each file's single meta
// record is keyed "$" + uuid.
// seq is zero-padded so that lexicographic key order (what every Store
// implementation sorts cursors by) matches numeric sequence order.
func chunkKey(uuid string, seq int) string {
	return fmt.Sprintf("$%s-$%010d", uuid, seq)
}

func metaKey(uuid string) string {
	return "$" + uuid
}

func chunkPrefix(uuid string) string {
	return "$" + uuid + "-$"
}

// FileMeta is the one record stored per file on completion.
type FileMeta struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

// Entry is one (key, bytes) pair yielded by a cursor, in key order.
type Entry struct {
	Key   string
	Bytes []byte
}

// Store is the abstract keyed blob store contract: put, scan a prefix in
// order, delete a range.
type Store interface {
	// Put durably writes bytes under key.
	Put(key string, data []byte) error
	// Get reads back the exact key, reporting false if absent.
	Get(key string) (data []byte, ok bool, err error)
	// OpenCursor returns every (key, bytes) pair whose key has the given
	// prefix, in key order.
	OpenCursor(prefix string) ([]Entry, error)
	// DeleteRange removes every key with the given prefix.
	DeleteRange(prefix string) error
}

// PutChunk stores the seq-th chunk of file uuid.
func PutChunk(s Store, uuid string, seq int, data []byte) error {
	return s.Put(chunkKey(uuid, seq), data)
}

// PutMeta stores the completion record for file uuid.
func PutMeta(s Store, uuid string, meta FileMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.Put(metaKey(uuid), data)
}

// GetMeta reads back the completion record written by PutMeta, if any.
func GetMeta(s Store, uuid string) (FileMeta, bool, error) {
	data, ok, err := s.Get(metaKey(uuid))
	if err != nil || !ok {
		return FileMeta{}, false, err
	}
	var meta FileMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return FileMeta{}, false, err
	}
	return meta, true, nil
}

// Assemble scans every chunk of file uuid in order and concatenates them
// into a single byte slice, per the invariant that a complete file's
// chunks occupy sequence numbers 0..N-1 with no gaps.
func Assemble(s Store, uuid string) ([]byte, error) {
	entries, err := s.OpenCursor(chunkPrefix(uuid))
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	var total int
	for _, e := range entries {
		total += len(e.Bytes)
	}
	out := make([]byte, 0, total)
	for _, e := range entries {
		out = append(out, e.Bytes...)
	}
	return out, nil
}

// Forget deletes every chunk of file uuid and its meta record, once the
// user has been offered the assembled blob.
func Forget(s Store, uuid string) error {
	if err := s.DeleteRange(chunkPrefix(uuid)); err != nil {
		return err
	}
	return s.DeleteRange(metaKey(uuid))
}
