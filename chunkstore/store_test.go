package chunkstore

import (
	"bytes"
	"path/filepath"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	mem := NewMemStore()
	dir := t.TempDir()
	bolt, err := OpenBoltStore(filepath.Join(dir, "chunks.db"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{"mem": mem, "bolt": bolt}
}

// scenario 5: catalog + transfer assembly, for both store backends.
func TestAssembleOrdersChunksBySequence(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			const uuid = "U"
			chunks := [][]byte{
				bytes.Repeat([]byte{0xAA}, 65536),
				bytes.Repeat([]byte{0xBB}, 65536),
				{0xCC},
			}
			for seq, c := range chunks {
				if err := PutChunk(store, uuid, seq, c); err != nil {
					t.Fatalf("PutChunk(%d): %v", seq, err)
				}
			}
			if err := PutMeta(store, uuid, FileMeta{Name: "x.bin", Chunks: len(chunks)}); err != nil {
				t.Fatalf("PutMeta: %v", err)
			}

			entries, err := store.OpenCursor(chunkPrefix(uuid))
			if err != nil {
				t.Fatalf("OpenCursor: %v", err)
			}
			if len(entries) != 3 {
				t.Fatalf("got %d chunk entries, want 3", len(entries))
			}

			blob, err := Assemble(store, uuid)
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			want := 65536 + 65536 + 1
			if len(blob) != want {
				t.Fatalf("assembled length = %d, want %d", len(blob), want)
			}
			if blob[0] != 0xAA || blob[65536] != 0xBB || blob[len(blob)-1] != 0xCC {
				t.Error("assembled blob does not preserve chunk order")
			}

			meta, ok, err := GetMeta(store, uuid)
			if err != nil || !ok {
				t.Fatalf("GetMeta: ok=%v err=%v", ok, err)
			}
			if meta.Name != "x.bin" || meta.Chunks != 3 {
				t.Errorf("meta = %+v", meta)
			}
		})
	}
}

func TestForgetRemovesChunksAndMeta(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			const uuid = "U"
			PutChunk(store, uuid, 0, []byte("a"))
			PutChunk(store, uuid, 1, []byte("b"))
			PutMeta(store, uuid, FileMeta{Name: "f", Chunks: 2})

			if err := Forget(store, uuid); err != nil {
				t.Fatalf("Forget: %v", err)
			}

			entries, _ := store.OpenCursor(chunkPrefix(uuid))
			if len(entries) != 0 {
				t.Errorf("expected no chunk entries after Forget, got %d", len(entries))
			}
			if _, ok, _ := store.Get(metaKey(uuid)); ok {
				t.Error("expected meta record to be gone after Forget")
			}
		})
	}
}

func TestZeroByteFile(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			const uuid = "Z"
			if err := PutMeta(store, uuid, FileMeta{Name: "empty", Chunks: 0}); err != nil {
				t.Fatalf("PutMeta: %v", err)
			}
			blob, err := Assemble(store, uuid)
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			if len(blob) != 0 {
				t.Errorf("got %d bytes, want 0", len(blob))
			}
		})
	}
}
