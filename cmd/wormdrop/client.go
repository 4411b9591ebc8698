package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wormdrop.dev/chunkstore"
	"wormdrop.dev/transfer"
	"wormdrop.dev/transport"
)

func receive(args ...string) {
	set := flag.NewFlagSet(args[0], flag.ExitOnError)
	set.Usage = func() {
		fmt.Fprintf(set.Output(), "download every file a host offers\n\n")
		fmt.Fprintf(set.Output(), "usage: %s %s <code>\n\nflags:\n", os.Args[0], args[0])
		set.PrintDefaults()
	}
	password := set.String("password", "", "the session's password, if any")
	directory := set.String("dir", ".", "directory to write downloaded files to")
	spillDir := set.String("stage", "", "directory to stage chunks on disk instead of in memory, for large files")
	set.Parse(args[1:])
	if set.NArg() != 1 {
		set.Usage()
		os.Exit(2)
	}
	code := set.Arg(0)

	sig := transport.NewSignalingClient(*sigserv, 25*time.Second)
	hostDetails, err := sig.Details(code, *password)
	if err != nil {
		fatalf("could not fetch session details: %v", err)
	}
	hostBlob, err := transport.DecodeSignalingBlob(hostDetails)
	if err != nil {
		fatalf("could not decode host's offer: %v", err)
	}

	peer, err := transport.NewPeer(iceServers())
	if err != nil {
		fatalf("could not create peer connection: %v", err)
	}
	defer peer.Close()

	answerSDP, err := peer.CreateAnswer(hostBlob.Offer)
	if err != nil {
		fatalf("could not create answer: %v", err)
	}
	for _, c := range hostBlob.ICECandidates {
		if err := peer.AddICECandidate(c); err != nil {
			fatalf("could not add ICE candidate: %v", err)
		}
	}
	candidates := collectCandidates(peer.Events(), iceGatherWindow)
	answerBlob, err := transport.EncodeSignalingBlob(transport.SignalingBlob{Offer: answerSDP, ICECandidates: candidates})
	if err != nil {
		fatalf("could not encode signaling blob: %v", err)
	}
	if _, err := sig.Join(code, *password, answerBlob); err != nil {
		fatalf("could not join session: %v", err)
	}

	store, cleanup := openStore(*spillDir)
	defer cleanup()

	client := transfer.NewClient(peer, store)
	client.OnCatalog = func(files []transfer.FileEntry) {
		for _, f := range files {
			if f.State == transfer.Pending {
				if err := client.Accept(f.UUID); err != nil {
					fmt.Fprintf(set.Output(), "could not accept %s: %v\n", f.Name, err)
				}
			}
		}
	}
	client.OnUpdate = func(f transfer.FileEntry) {
		fmt.Fprintf(set.Output(), "\r%s: %s %3.0f%%", f.Name, f.State, f.Progress*100)
		if f.State == transfer.Done {
			fmt.Fprintln(set.Output())
		}
	}
	client.OnComplete = func(uuid string) { saveFile(set, store, uuid, *directory) }

	fmt.Fprintln(set.Output(), "connected, waiting for catalog...")
	if err := client.Run(context.Background()); err != nil {
		fatalf("transfer ended: %v", err)
	}
}

func openStore(spillDir string) (chunkstore.Store, func()) {
	if spillDir == "" {
		return chunkstore.NewMemStore(), func() {}
	}
	if err := os.MkdirAll(spillDir, 0700); err != nil {
		fatalf("could not create stage directory %s: %v", spillDir, err)
	}
	path := filepath.Join(spillDir, "wormdrop-"+strconv.FormatInt(time.Now().UnixNano(), 36)+".db")
	store, err := chunkstore.OpenBoltStore(path)
	if err != nil {
		fatalf("could not open chunk store: %v", err)
	}
	return store, func() {
		store.Close()
		os.Remove(path)
	}
}

func saveFile(set *flag.FlagSet, store chunkstore.Store, uuid, directory string) {
	meta, ok, err := chunkstore.GetMeta(store, uuid)
	if err != nil || !ok {
		fmt.Fprintf(set.Output(), "could not read metadata for %s: %v\n", uuid, err)
		return
	}
	data, err := chunkstore.Assemble(store, uuid)
	if err != nil {
		fmt.Fprintf(set.Output(), "could not assemble %s: %v\n", meta.Name, err)
		return
	}
	path := uniquePath(filepath.Join(directory, filepath.Base(filepath.Clean(meta.Name))))
	if err := os.WriteFile(path, data, 0600); err != nil {
		fmt.Fprintf(set.Output(), "could not write %s: %v\n", path, err)
		return
	}
	if err := chunkstore.Forget(store, uuid); err != nil {
		fmt.Fprintf(set.Output(), "could not clean up staged chunks for %s: %v\n", meta.Name, err)
	}
}

// uniquePath finds a non-colliding path by appending/incrementing a
// numeric suffix before the extension, so a second file of the same name
// never clobbers the first.
func uniquePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
