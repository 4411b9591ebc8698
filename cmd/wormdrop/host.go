package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"wormdrop.dev/transfer"
	"wormdrop.dev/transport"
	"wormdrop.dev/wordlist"
)

// iceGatherWindow bounds how long the non-trickled offer/answer waits to
// collect locally gathered ICE candidates before sealing the signaling
// blob, per collectCandidates' non-trickle-ICE design.
const iceGatherWindow = 2 * time.Second

func send(args ...string) {
	set := flag.NewFlagSet(args[0], flag.ExitOnError)
	set.Usage = func() {
		fmt.Fprintf(set.Output(), "offer files for a peer to download\n\n")
		fmt.Fprintf(set.Output(), "usage: %s %s [files]...\n\nflags:\n", os.Args[0], args[0])
		set.PrintDefaults()
	}
	password := set.String("password", "", "require this password to join the session (default: a generated 2-word passphrase)")
	noPassword := set.Bool("no-password", false, "allow anyone with the code to join, without a password")
	compression := set.Int("compression", 0, "advertised compression level, 0-10 (advisory only; no compression is applied)")
	set.Parse(args[1:])
	if set.NArg() < 1 {
		set.Usage()
		os.Exit(2)
	}

	if *password == "" && !*noPassword {
		words, err := wordlist.RandomWords(2)
		if err != nil {
			fatalf("could not generate a passphrase: %v", err)
		}
		*password = strings.Join(words, "-")
	}

	peer, err := transport.NewPeer(iceServers())
	if err != nil {
		fatalf("could not create peer connection: %v", err)
	}
	defer peer.Close()

	offerSDP, err := peer.CreateOffer()
	if err != nil {
		fatalf("could not create offer: %v", err)
	}
	candidates := collectCandidates(peer.Events(), iceGatherWindow)
	blob, err := transport.EncodeSignalingBlob(transport.SignalingBlob{Offer: offerSDP, ICECandidates: candidates})
	if err != nil {
		fatalf("could not encode signaling blob: %v", err)
	}

	sig := transport.NewSignalingClient(*sigserv, 25*time.Second)
	code, err := sig.CreateSession(blob, *password, *compression)
	if err != nil {
		fatalf("could not create session: %v", err)
	}
	printCode(code, *password)

	answerDetails, err := pollForAnswer(sig, code)
	if err != nil {
		fatalf("could not get an answer: %v", err)
	}
	answerBlob, err := transport.DecodeSignalingBlob(answerDetails)
	if err != nil {
		fatalf("could not decode peer's answer: %v", err)
	}
	if err := peer.SetRemoteAnswer(answerBlob.Offer); err != nil {
		fatalf("could not set remote answer: %v", err)
	}
	for _, c := range answerBlob.ICECandidates {
		if err := peer.AddICECandidate(c); err != nil {
			fatalf("could not add ICE candidate: %v", err)
		}
	}

	host := transfer.NewHost(peer)
	for _, name := range set.Args() {
		addFile(host, name)
	}

	fmt.Fprintln(set.Output(), "connected, sending catalog...")
	if err := host.Run(context.Background()); err != nil {
		fatalf("transfer ended: %v", err)
	}
}

func addFile(host *transfer.Host, path string) {
	info, err := os.Stat(path)
	if err != nil {
		fatalf("could not stat %s: %v", path, err)
	}
	err = host.Add(transfer.FileEntry{
		UUID: uuid.NewString(),
		Name: filepath.Base(filepath.Clean(path)),
		Size: float64(info.Size()),
	}, func() (io.ReadCloser, error) {
		return os.Open(path)
	})
	if err != nil {
		fatalf("could not advertise %s: %v", path, err)
	}
}
