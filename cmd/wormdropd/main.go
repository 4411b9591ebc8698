// Command wormdropd is the rendezvous server: it brokers the SDP
// exchange between a Host and a Client so they can open a direct WebRTC
// data channel, then steps out of the way. It never sees file bytes.
package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"golang.org/x/crypto/acme/autocert"

	"wormdrop.dev/rendezvous"
)

// tlsConfig mirrors the external interface's `tls: {certs, key, ca_cert}`
// option: a directly supplied certificate pair, with an optional CA bundle
// for verifying client certificates.
type tlsConfig struct {
	Certs  string `json:"certs"`
	Key    string `json:"key"`
	CACert string `json:"ca_cert"`
}

// config is the server's full configuration surface, loadable from a JSON
// file via -config and overridable by explicit flags, matching the
// teacher's minimal-dependency approach (stdlib encoding/json, no config
// library anywhere in the retrieval pack for this purpose).
type config struct {
	BindAddr      string     `json:"bind_addr"`
	Port          int        `json:"port"`
	TLS           *tlsConfig `json:"tls,omitempty"`
	ServePage     bool       `json:"serve_page"`
	ServeAPI      bool       `json:"serve_api"`
	PollTimeoutMS int        `json:"poll_timeout_ms"`
	SessionTTLS   int        `json:"session_ttl_s"`
}

func defaultConfig() config {
	return config{
		Port:          8080,
		ServePage:     true,
		ServeAPI:      true,
		PollTimeoutMS: 25000,
		SessionTTLS:   3600,
	}
}

func loadConfigFile(path string) (config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Usage = usage
	configPath := flag.String("config", "", "path to a JSON config file (flags below override its fields)")
	bindAddr := flag.String("bind", "", "address to bind the listener to")
	port := flag.Int("port", 0, "http (or https, with -tls-cert) listen port")
	servePage := flag.Bool("serve-page", true, "serve the static UI directory")
	serveAPI := flag.Bool("serve-api", true, "serve the /api rendezvous endpoints")
	pageDir := flag.String("ui", "./web", "path to the static UI directory, when -serve-page is set")
	pollTimeoutMS := flag.Int("poll-timeout-ms", 0, "long-poll deadline in milliseconds before a poll returns 408")
	sessionTTLS := flag.Int("session-ttl-s", 0, "seconds an unjoined session lives before being swept")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file; enables HTTPS directly")
	tlsKey := flag.String("tls-key", "", "TLS key file, paired with -tls-cert")
	tlsCA := flag.String("tls-ca", "", "optional CA bundle to verify client certificates against")
	tlsHosts := flag.String("tls-hosts", "", "comma separated hosts to request Let's Encrypt certs for; alternative to -tls-cert")
	tlsCache := flag.String("tls-cache", os.Getenv("HOME")+"/.wormdropd-certs", "directory to cache ACME certificates in, with -tls-hosts")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		loaded, err := loadConfigFile(*configPath)
		if err != nil {
			log.Fatalf("wormdropd: %v", err)
		}
		cfg = loaded
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlagOverrides(&cfg, set, *bindAddr, *port, *pollTimeoutMS, *sessionTTLS, *servePage, *serveAPI, *tlsCert, *tlsKey, *tlsCA)

	if !cfg.ServePage && !cfg.ServeAPI {
		log.Fatal("wormdropd: at least one of -serve-page or -serve-api must be enabled")
	}

	registry := rendezvous.NewRegistry(time.Duration(cfg.SessionTTLS) * time.Second)
	defer registry.Close()

	mux := http.NewServeMux()
	if cfg.ServeAPI {
		api := rendezvous.NewServer(registry, time.Duration(cfg.PollTimeoutMS)*time.Millisecond).Handler()
		mux.Handle("/api/", api)
		mux.Handle("/metrics", api)
	}
	if cfg.ServePage {
		mux.Handle("/", gziphandler.GzipHandler(http.FileServer(http.Dir(*pageDir))))
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	switch {
	case cfg.TLS != nil && cfg.TLS.Certs != "" && cfg.TLS.Key != "":
		srv.TLSConfig = directTLSConfig(cfg.TLS)
		log.Printf("wormdropd: listening on %s (tls)", addr)
		log.Fatal(srv.ListenAndServeTLS(cfg.TLS.Certs, cfg.TLS.Key))
	case *tlsHosts != "":
		m := &autocert.Manager{
			Cache:      autocert.DirCache(*tlsCache),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(strings.Split(*tlsHosts, ",")...),
		}
		srv.TLSConfig = &tls.Config{GetCertificate: m.GetCertificate}
		plainSrv := &http.Server{Addr: ":http", Handler: m.HTTPHandler(nil)}
		go func() { log.Fatal(plainSrv.ListenAndServe()) }()
		log.Printf("wormdropd: listening on %s (autocert)", addr)
		log.Fatal(srv.ListenAndServeTLS("", ""))
	default:
		log.Printf("wormdropd: listening on %s", addr)
		log.Fatal(srv.ListenAndServe())
	}
}

// applyFlagOverrides layers explicitly-passed flags (tracked in set, via
// flag.Visit) on top of whatever -config already loaded, so an unset bool
// flag's default never clobbers a config file's explicit false.
func applyFlagOverrides(cfg *config, set map[string]bool, bindAddr string, port, pollTimeoutMS, sessionTTLS int, servePage, serveAPI bool, tlsCert, tlsKey, tlsCA string) {
	if set["bind"] {
		cfg.BindAddr = bindAddr
	}
	if set["port"] {
		cfg.Port = port
	}
	if set["poll-timeout-ms"] {
		cfg.PollTimeoutMS = pollTimeoutMS
	}
	if set["session-ttl-s"] {
		cfg.SessionTTLS = sessionTTLS
	}
	if set["serve-page"] {
		cfg.ServePage = servePage
	}
	if set["serve-api"] {
		cfg.ServeAPI = serveAPI
	}
	if set["tls-cert"] || set["tls-key"] {
		cfg.TLS = &tlsConfig{Certs: tlsCert, Key: tlsKey, CACert: tlsCA}
	} else if cfg.TLS != nil && set["tls-ca"] {
		cfg.TLS.CACert = tlsCA
	}
}

// directTLSConfig builds a *tls.Config for the -tls-cert/-tls-key path,
// optionally requiring client certificates signed by -tls-ca.
func directTLSConfig(t *tlsConfig) *tls.Config {
	cfg := &tls.Config{}
	if t.CACert == "" {
		return cfg
	}
	pem, err := os.ReadFile(t.CACert)
	if err != nil {
		log.Fatalf("wormdropd: reading CA bundle: %v", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		log.Fatalf("wormdropd: no certificates found in %s", t.CACert)
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.VerifyClientCertIfGiven
	return cfg
}

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "wormdropd runs the WebRTC rendezvous server.\n\n")
	fmt.Fprintf(w, "usage:\n\n  %s [flags]\n\nflags:\n", os.Args[0])
	flag.PrintDefaults()
}
