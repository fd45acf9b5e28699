package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_Account(t *testing.T) {
	tests := []struct {
		account string
		valid   bool
	}{
		{"", true},
		{"+64275263733", true},
		{"+15551234567", true},
		{"64275263733", false},
		{"+64 27 526", false},
		{"+1", false},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.Signal.Account = tt.account
		err := Validate(cfg)
		if (err == nil) != tt.valid {
			t.Errorf("account %q: err = %v, want valid=%v", tt.account, err, tt.valid)
		}
	}
}

func TestValidate_MaxAttempts_Boundary(t *testing.T) {
	cfg := Defaults()
	for _, n := range []int{1, 1000} {
		cfg.Receipt.MaxAttempts = n
		if err := Validate(cfg); err != nil {
			t.Fatalf("maxAttempts=%d should be valid: %v", n, err)
		}
	}
	for _, n := range []int{0, 1001} {
		cfg.Receipt.MaxAttempts = n
		if err := Validate(cfg); err == nil {
			t.Fatalf("expected error for maxAttempts=%d", n)
		}
	}
}

func TestValidate_Timeouts(t *testing.T) {
	cfg := Defaults()
	cfg.Signal.TimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for timeoutSeconds=0")
	}

	cfg = Defaults()
	cfg.Signal.ReceiveTimeoutSeconds = cfg.Signal.TimeoutSeconds
	if err := Validate(cfg); err == nil {
		t.Fatal("receive timeout must be shorter than the process timeout")
	}
}

func TestValidate_TelegramRequiresTokenAndChat(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Enabled = true
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
	if !strings.Contains(err.Error(), "telegram.token") || !strings.Contains(err.Error(), "telegram.chatId") {
		t.Errorf("errors should be aggregated: %v", err)
	}

	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.ChatID = -100123
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MetricsPath(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "metrics"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative metrics path")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			original := Defaults()
			original.Signal.Account = "+64275263733"
			original.Receipt.MaxAttempts = 25
			original.Telegram.AllowFrom = FlexStringList{"42"}

			if err := Save(path, original); err != nil {
				t.Fatalf("save: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm != 0o600 {
				t.Errorf("config file mode = %o, want 600", perm)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.Signal.Account != "+64275263733" || loaded.Receipt.MaxAttempts != 25 {
				t.Fatalf("loaded = %+v", loaded)
			}
			if len(loaded.Telegram.AllowFrom) != 1 || loaded.Telegram.AllowFrom[0] != "42" {
				t.Fatalf("allowFrom = %v", loaded.Telegram.AllowFrom)
			}
		})
	}
}

func TestLoad_YAMLPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
signal:
  account: "+64275263733"
telegram:
  allowFrom: [123, "456"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signal.Executable != "signal-cli" || cfg.Signal.TimeoutSeconds != 60 {
		t.Errorf("defaults lost: %+v", cfg.Signal)
	}
	if cfg.Receipt.MaxAttempts != 10 {
		t.Errorf("receipt defaults lost: %+v", cfg.Receipt)
	}
	if got := []string(cfg.Telegram.AllowFrom); len(got) != 2 || got[0] != "123" || got[1] != "456" {
		t.Errorf("allowFrom = %v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_JSONWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  // the account signal-cli is registered with
  "signal": {"account": "+15551234567",},
  /* wait longer for receipts */
  "receipt": {"maxAttempts": 30},
}`
	os.WriteFile(path, []byte(content), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signal.Account != "+15551234567" || cfg.Receipt.MaxAttempts != 30 {
		t.Errorf("got account %q, maxAttempts %d", cfg.Signal.Account, cfg.Receipt.MaxAttempts)
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"receipt": {"maxAttempts": 0}}`), 0o644)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "receipt.maxAttempts") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_SIGNALGATE_ACCOUNT", "+64275263733")
	t.Setenv("TEST_SIGNALGATE_TOKEN", "")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"signal": {"account": "${TEST_SIGNALGATE_ACCOUNT}"},
		"telegram": {"token": "${TEST_SIGNALGATE_TOKEN:-none}"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Signal.Account != "+64275263733" {
		t.Fatalf("account = %q", cfg.Signal.Account)
	}
	if cfg.Telegram.Token != "none" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()
	val, err := GetByPath(cfg, "signal.executable")
	if err != nil {
		t.Fatal(err)
	}
	if val != "signal-cli" {
		t.Errorf("signal.executable = %v", val)
	}
	val, err = GetByPath(cfg, "receipt.maxAttempts")
	if err != nil {
		t.Fatal(err)
	}
	if val != float64(10) {
		t.Errorf("receipt.maxAttempts = %v (%T)", val, val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(Defaults(), "signal.nonexistent"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSetByPath_AccountStaysString(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "signal.account", "+64275263733"); err != nil {
		t.Fatal(err)
	}
	if cfg.Signal.Account != "+64275263733" {
		t.Errorf("account = %q", cfg.Signal.Account)
	}
}

func TestSetByPath_Conversions(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "telegram.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "receipt.maxAttempts", "42"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "telegram.chatId", "-1001234567890"); err != nil {
		t.Fatal(err)
	}
	if !cfg.Telegram.Enabled || cfg.Receipt.MaxAttempts != 42 || cfg.Telegram.ChatID != -1001234567890 {
		t.Errorf("cfg = %+v / %+v", cfg.Telegram, cfg.Receipt)
	}
}

func TestSetByPath_List(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "telegram.allowFrom", "123, 456,"); err != nil {
		t.Fatal(err)
	}
	if got := []string(cfg.Telegram.AllowFrom); len(got) != 2 || got[0] != "123" || got[1] != "456" {
		t.Errorf("allowFrom = %v", got)
	}
}

func TestSetByPath_OmittedOptionalKey(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.logFile", "/tmp/sg.log"); err != nil {
		t.Fatal(err)
	}
	if cfg.General.LogFile != "/tmp/sg.log" {
		t.Errorf("logFile = %q", cfg.General.LogFile)
	}
}

func TestSetByPath_Rejects(t *testing.T) {
	tests := []struct {
		path, value string
	}{
		{"signal.nonexistent", "x"},
		{"nosuch.key", "x"},
		{"telegram.enabled", "maybe"},
		{"receipt.maxAttempts", "ten"},
		{"receipt", "5"},
	}
	for _, tt := range tests {
		cfg := Defaults()
		if err := SetByPath(cfg, tt.path, tt.value); err == nil {
			t.Errorf("SetByPath(%q, %q): expected error", tt.path, tt.value)
		}
		if cfg.Receipt.MaxAttempts != 10 || cfg.Telegram.Enabled {
			t.Errorf("SetByPath(%q, %q) modified config on error", tt.path, tt.value)
		}
	}
}

func TestSetByPath_EmptyPath(t *testing.T) {
	if err := SetByPath(Defaults(), "", "x"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSanitize_MasksToken(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123456789:ABCdefGHIjklMNOpqr"

	clean := Sanitize(cfg)
	if clean.Telegram.Token == cfg.Telegram.Token {
		t.Fatal("token not masked")
	}
	if !strings.HasPrefix(clean.Telegram.Token, "1234") || !strings.Contains(clean.Telegram.Token, "****") {
		t.Errorf("masked token = %q", clean.Telegram.Token)
	}
	if cfg.Telegram.Token != "123456789:ABCdefGHIjklMNOpqr" {
		t.Fatal("original config modified")
	}

	cfg.Telegram.Token = "short"
	if got := Sanitize(cfg).Telegram.Token; got != "***" {
		t.Errorf("short token masked as %q", got)
	}
}

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	for _, expected := range []string{"signal.account", "receipt.deadlineSeconds", "store.dbPath", "metrics.listen"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`["hello", 123, "world", 456.0]`), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`not json`), &list); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SG_TOKEN", "123:abc")
	t.Setenv("SG_HOST", "localhost")
	t.Setenv("SG_PORT", "9464")
	t.Setenv("SG_EMPTY", "")
	os.Unsetenv("SG_UNSET_XYZ")

	tests := []struct {
		name, in, want string
	}{
		{"simple", `{"token": "${SG_TOKEN}"}`, `{"token": "123:abc"}`},
		{"default when unset", `"${SG_UNSET_XYZ:-10}"`, `"10"`},
		{"set overrides default", `"${SG_PORT:-1}"`, `"9464"`},
		{"multiple", `"${SG_HOST}:${SG_PORT}"`, `"localhost:9464"`},
		{"unset without default kept", `"${SG_UNSET_XYZ}"`, `"${SG_UNSET_XYZ}"`},
		{"empty uses default", `"${SG_EMPTY:-fallback}"`, `"fallback"`},
		{"bare dollar untouched", `"$HOME is not substituted"`, `"$HOME is not substituted"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnvVars(tt.in); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

// --- Defaults ---

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Signal.Timeout().Seconds() != 60 || cfg.Signal.ReceiveTimeout().Seconds() != 5 {
		t.Errorf("signal timeouts = %v / %v", cfg.Signal.Timeout(), cfg.Signal.ReceiveTimeout())
	}
	if cfg.Receipt.PollInterval().Milliseconds() != 1000 || cfg.Receipt.Deadline().Minutes() != 2 {
		t.Errorf("receipt = %v / %v", cfg.Receipt.PollInterval(), cfg.Receipt.Deadline())
	}
	if cfg.Relay.Interval().Seconds() != 10 {
		t.Errorf("relay interval = %v", cfg.Relay.Interval())
	}
}
