package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wormdropd.json")
	body := `{"bind_addr":"127.0.0.1","port":9090,"serve_page":false,"session_ttl_s":60}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadConfigFile(path)
	if err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1" || cfg.Port != 9090 || cfg.ServePage || cfg.SessionTTLS != 60 {
		t.Fatalf("cfg = %+v, want overridden bind_addr/port/serve_page/session_ttl_s", cfg)
	}
	// Fields absent from the file keep the baked-in defaults.
	if cfg.ServeAPI != true || cfg.PollTimeoutMS != 25000 {
		t.Fatalf("cfg = %+v, want defaults preserved for unset fields", cfg)
	}
}

func TestApplyFlagOverridesSkipsUnsetBoolFlags(t *testing.T) {
	cfg := defaultConfig()
	cfg.ServePage = false // as if loaded from a config file

	// No flags were explicitly passed on the command line.
	applyFlagOverrides(&cfg, map[string]bool{}, "", 0, 0, 0, true, true, "", "", "")

	if cfg.ServePage {
		t.Fatal("ServePage was flipped back to true by an unset flag's default")
	}
}

func TestApplyFlagOverridesHonorsExplicitFlags(t *testing.T) {
	cfg := defaultConfig()
	set := map[string]bool{"bind": true, "port": true, "tls-cert": true, "tls-key": true}
	applyFlagOverrides(&cfg, set, "0.0.0.0", 9999, 0, 0, true, true, "cert.pem", "key.pem", "")

	if cfg.BindAddr != "0.0.0.0" || cfg.Port != 9999 {
		t.Fatalf("cfg = %+v, want bind/port overridden", cfg)
	}
	if cfg.TLS == nil || cfg.TLS.Certs != "cert.pem" || cfg.TLS.Key != "key.pem" {
		t.Fatalf("cfg.TLS = %+v, want cert/key set", cfg.TLS)
	}
}
