package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel=info, got %q", cfg.LogLevel)
	}
	if cfg.SystemUID != 1000 {
		t.Errorf("expected SystemUID=1000, got %d", cfg.SystemUID)
	}
	if cfg.ShortDelay != 2*time.Second {
		t.Errorf("expected ShortDelay=2s, got %v", cfg.ShortDelay)
	}
	if cfg.LongDelay != 10*time.Second {
		t.Errorf("expected LongDelay=10s, got %v", cfg.LongDelay)
	}
	if cfg.ListenAddr != "127.0.0.1:8088" {
		t.Errorf("expected ListenAddr=127.0.0.1:8088, got %q", cfg.ListenAddr)
	}
	if cfg.StateDB != "/var/lib/netpolicyd/state.db" {
		t.Errorf("expected StateDB default, got %q", cfg.StateDB)
	}
	if cfg.VerdictCacheSize != 4096 {
		t.Errorf("expected VerdictCacheSize=4096, got %d", cfg.VerdictCacheSize)
	}
	if len(cfg.BypassUIDs) != 0 {
		t.Errorf("expected no bypass uids by default, got %v", cfg.BypassUIDs)
	}
	if cfg.MetricsNamespace != "netpolicyd" {
		t.Errorf("expected MetricsNamespace=netpolicyd, got %q", cfg.MetricsNamespace)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("NETPOLICY_ENV", "dev")
	t.Setenv("NETPOLICY_LOG_LEVEL", "debug")
	t.Setenv("NETPOLICY_SYSTEM_UID", "1001")
	t.Setenv("NETPOLICY_SHORT_DELAY", "500ms")
	t.Setenv("NETPOLICY_LONG_DELAY", "3s")
	t.Setenv("NETPOLICY_LISTEN_ADDR", ":9090")
	t.Setenv("NETPOLICY_STATE_DB", "")
	t.Setenv("NETPOLICY_VERDICT_CACHE_SIZE", "16")
	t.Setenv("NETPOLICY_BYPASS_UIDS", "10001,10002")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "dev" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected env/log: %q %q", cfg.Env, cfg.LogLevel)
	}
	if cfg.SystemUID != 1001 {
		t.Errorf("expected SystemUID=1001, got %d", cfg.SystemUID)
	}
	if cfg.ShortDelay != 500*time.Millisecond || cfg.LongDelay != 3*time.Second {
		t.Errorf("unexpected delays: short=%v long=%v", cfg.ShortDelay, cfg.LongDelay)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("expected ListenAddr=:9090, got %q", cfg.ListenAddr)
	}
	if cfg.StateDB != "" {
		t.Errorf("expected StateDB to be disabled, got %q", cfg.StateDB)
	}
	if cfg.VerdictCacheSize != 16 {
		t.Errorf("expected VerdictCacheSize=16, got %d", cfg.VerdictCacheSize)
	}
	want := []int{10001, 10002}
	if len(cfg.BypassUIDs) != len(want) {
		t.Fatalf("expected BypassUIDs=%v, got %v", want, cfg.BypassUIDs)
	}
	for i, v := range want {
		if cfg.BypassUIDs[i] != v {
			t.Errorf("expected BypassUIDs[%d]=%d, got %d", i, v, cfg.BypassUIDs[i])
		}
	}
}

func TestLoad_LongDelayShorterThanShort(t *testing.T) {
	t.Setenv("NETPOLICY_SHORT_DELAY", "5s")
	t.Setenv("NETPOLICY_LONG_DELAY", "1s")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error when long_delay < short_delay")
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("NETPOLICY_ENV", "staging")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid NETPOLICY_ENV, got nil")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	t.Setenv("NETPOLICY_LOG_LEVEL", "trace")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid LOG_LEVEL, got nil")
	}
}

func TestLoad_NegativeSystemUID(t *testing.T) {
	t.Setenv("NETPOLICY_SYSTEM_UID", "-5")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for negative SYSTEM_UID, got nil")
	}
}

func TestLoad_InvalidBypassUID(t *testing.T) {
	t.Setenv("NETPOLICY_BYPASS_UIDS", "10001,-2")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for negative bypass uid, got nil")
	}
}

func TestLoad_DelayNaN(t *testing.T) {
	t.Setenv("NETPOLICY_SHORT_DELAY", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for unparsable SHORT_DELAY, got nil")
	}
}

func TestLoad_WhenKoanfDefaultLoadFails(t *testing.T) {
	orig := defaultLoader
	defaultLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { defaultLoader = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading defaults")
	}
}

func TestLoad_WhenKoanfEnvLoadFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { envLoader = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading env")
	}
}

func TestLoad_RegisterValidationFails(t *testing.T) {
	orig := registerValidation
	registerValidation = func(v *validator.Validate) error { return errors.New("mocked validation error") }
	defer func() { registerValidation = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked validation error") {
		t.Fatal("expected error when registering validation")
	}
}

func TestValidListenAddr(t *testing.T) {
	cases := []struct {
		input    string
		expected bool
	}{
		{"127.0.0.1:8088", true},
		{":8088", true},
		{"localhost:80", true},
		{"[::1]:8088", true},
		{"0.0.0.0:0", false},
		{"127.0.0.1:", false},
		{"127.0.0.1:99999", false},
		{"not_a_host:80", false},
		{"127.0.0.1", false},
		{"", false},
	}

	validate := validator.New()
	_ = validate.RegisterValidation("listen_addr", validListenAddr)

	type S struct {
		Addr string `validate:"listen_addr"`
	}
	for _, tc := range cases {
		err := validate.Struct(S{Addr: tc.input})
		if tc.expected && err != nil {
			t.Errorf("validListenAddr(%q) = false, want true", tc.input)
		}
		if !tc.expected && err == nil {
			t.Errorf("validListenAddr(%q) = true, want false", tc.input)
		}
	}
}

func TestDefaultLoader_InvalidDefault_ValidationFails(t *testing.T) {
	orig := DEFAULT_APP_CONFIG
	defer func() { DEFAULT_APP_CONFIG = orig }()

	DEFAULT_APP_CONFIG.ListenAddr = "nowhere"

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error for invalid default listen address")
	}
}
