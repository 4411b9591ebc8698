// Command wormdrop moves files between two peers over a direct WebRTC
// data channel, using a wormdropd rendezvous server only to exchange the
// initial SDP offer/answer.
package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"rsc.io/qr"

	"wormdrop.dev/transport"
)

var subcmds = map[string]func(args ...string){
	"send":    send,
	"receive": receive,
}

var (
	sigserv = flag.String("signal", "http://localhost:8080/", "rendezvous server to use")
	iceserv = flag.String("ice", transport.DefaultSTUNServer, "comma separated stun/turn servers to use")
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "wormdrop moves files directly between two peers over WebRTC.\n\n")
	fmt.Fprintf(w, "usage:\n\n  %s [flags] <command> [arguments]\n\ncommands:\n", os.Args[0])
	for key := range subcmds {
		fmt.Fprintf(w, "  %s\n", key)
	}
	fmt.Fprintf(w, "\nflags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	cmd, ok := subcmds[flag.Arg(0)]
	if !ok {
		flag.Usage()
		os.Exit(2)
	}
	cmd(flag.Args()...)
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintf(flag.CommandLine.Output(), format+"\n", v...)
	os.Exit(1)
}

func iceServers() []webrtc.ICEServer {
	var out []webrtc.ICEServer
	for _, s := range strings.Split(*iceserv, ",") {
		if s == "" {
			continue
		}
		out = append(out, webrtc.ICEServer{URLs: []string{s}})
	}
	return out
}

// printCode prints the session code and, for a terminal, a QR code
// pointing at the signaling server with the code as the URL fragment.
func printCode(code, password string) {
	out := flag.CommandLine.Output()
	if password != "" {
		fmt.Fprintf(out, "%s (password: %s)\n", code, password)
	} else {
		fmt.Fprintf(out, "%s\n", code)
	}

	u, err := url.Parse(*sigserv)
	if err != nil {
		return
	}
	u.Fragment = code
	qrcode, err := qr.Encode(u.String(), qr.L)
	if err != nil {
		return
	}
	for y := 0; y < qrcode.Size; y += 2 {
		for x := 0; x < qrcode.Size; x++ {
			switch {
			case qrcode.Black(x, y) && qrcode.Black(x, y+1):
				fmt.Fprint(out, " ")
			case qrcode.Black(x, y):
				fmt.Fprint(out, "▄")
			case qrcode.Black(x, y+1):
				fmt.Fprint(out, "▀")
			default:
				fmt.Fprint(out, "█")
			}
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "%s\n", u.String())
}

// collectCandidates drains ICE candidate events off events for window,
// used to build a single non-trickled signaling blob (offer/answer plus
// every locally gathered candidate) instead of a separate trickle-ICE
// round trip, since the rendezvous API exchanges exactly one blob per
// direction.
func collectCandidates(events <-chan transport.Event, window time.Duration) []transport.ICECandidate {
	deadline := time.After(window)
	var out []transport.ICECandidate
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			if ev.Kind == transport.IceCandidate {
				out = append(out, ev.Candidate)
			}
		case <-deadline:
			return out
		}
	}
}

// pollForAnswer re-issues Poll until it returns a non-timeout result or
// hard-fails, per the long-poll contract's "caller retries immediately".
func pollForAnswer(sig *transport.SignalingClient, code string) (string, error) {
	for {
		details, err := sig.Poll(code)
		if err == nil {
			return details, nil
		}
		se, ok := err.(*transport.StatusError)
		if !ok || !se.Timeout() {
			return "", err
		}
	}
}
