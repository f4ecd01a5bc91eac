package config

import "testing"

func TestParseSenderDefaults(t *testing.T) {
	cfg, err := ParseSender(nil)
	if err != nil {
		t.Fatalf("ParseSender: %v", err)
	}
	if cfg.Host != "::1" || cfg.Port != "1341" {
		t.Errorf("Host/Port = %s/%s, want ::1/1341", cfg.Host, cfg.Port)
	}
	if cfg.BufSize != 32 {
		t.Errorf("BufSize = %d, want 32", cfg.BufSize)
	}
	if cfg.File == nil {
		t.Error("File should default to stdin")
	}
}

func TestParseSenderPositionalArgs(t *testing.T) {
	cfg, err := ParseSender([]string{"example.com", "9000"})
	if err != nil {
		t.Fatalf("ParseSender: %v", err)
	}
	if cfg.Host != "example.com" || cfg.Port != "9000" {
		t.Errorf("Host/Port = %s/%s, want example.com/9000", cfg.Host, cfg.Port)
	}
}

func TestParseSenderBufRoundsToPowerOfTwo(t *testing.T) {
	cfg, err := ParseSender([]string{"--buf", "20"})
	if err != nil {
		t.Fatalf("ParseSender: %v", err)
	}
	if cfg.BufSize != 32 {
		t.Errorf("BufSize = %d, want 32 (next power of two above 20)", cfg.BufSize)
	}
}

func TestParseReceiverDefaults(t *testing.T) {
	cfg, err := ParseReceiver(nil)
	if err != nil {
		t.Fatalf("ParseReceiver: %v", err)
	}
	if cfg.Host != "::" || cfg.Port != "1341" {
		t.Errorf("Host/Port = %s/%s, want ::/1341", cfg.Host, cfg.Port)
	}
	if cfg.File == nil {
		t.Error("File should default to stdout")
	}
	if cfg.BufSize != 32 {
		t.Errorf("BufSize = %d, want 32 (fixed physical buffer, independent of --buf)", cfg.BufSize)
	}
	if cfg.MaxWindow != 31 {
		t.Errorf("MaxWindow = %d, want 31 (default --buf of 31 unclamped)", cfg.MaxWindow)
	}
}

func TestParseReceiverClampsMaxWindowNotBufSize(t *testing.T) {
	cfg, err := ParseReceiver([]string{"--buf", "1000"})
	if err != nil {
		t.Fatalf("ParseReceiver: %v", err)
	}
	if cfg.MaxWindow > 31 {
		t.Errorf("MaxWindow = %d, want <= 31: a wire-encodable window must fit the 5-bit window field", cfg.MaxWindow)
	}
	if cfg.BufSize != 32 {
		t.Errorf("BufSize = %d, want 32: the physical receive buffer is fixed regardless of --buf", cfg.BufSize)
	}
}

func TestParseSenderMetricsAddr(t *testing.T) {
	cfg, err := ParseSender([]string{"--metrics-addr", ":9100"})
	if err != nil {
		t.Fatalf("ParseSender: %v", err)
	}
	if cfg.MetricsAddr != ":9100" {
		t.Errorf("MetricsAddr = %q, want :9100", cfg.MetricsAddr)
	}
}
