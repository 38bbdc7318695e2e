package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %d, want %d", cfg.MinVersion, tls.VersionTLS12)
	}
	if len(cfg.CipherSuites) == 0 {
		t.Error("CipherSuites should not be empty")
	}
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	c := NewHTTPClient(ClientConfig{})
	if c.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport")
	}
	if tr.MaxIdleConnsPerHost != 16 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 16", tr.MaxIdleConnsPerHost)
	}
	if tr.TLSClientConfig.MinVersion != tls.VersionTLS12 {
		t.Error("transport must carry hardened TLS config")
	}
}

func TestNewHTTPClient_Custom(t *testing.T) {
	c := NewHTTPClient(ClientConfig{Timeout: 3 * time.Second, MaxIdleConnsPerHost: 4})
	if c.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", c.Timeout)
	}
	if c.Transport.(*http.Transport).MaxIdleConnsPerHost != 4 {
		t.Error("MaxIdleConnsPerHost not applied")
	}
}
