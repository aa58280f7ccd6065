package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestString_FallbackAndTrim(t *testing.T) {
	t.Setenv("CALSYNC_TEST_STRING", "  value  ")
	if got := String("CALSYNC_TEST_STRING", "fallback"); got != "value" {
		t.Fatalf("got %q want %q", got, "value")
	}
	if got := String("CALSYNC_TEST_STRING_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("got %q want fallback", got)
	}
}

func TestDuration_RejectsNonPositive(t *testing.T) {
	t.Setenv("CALSYNC_TEST_DURATION", "-5s")
	if got := Duration("CALSYNC_TEST_DURATION", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
	t.Setenv("CALSYNC_TEST_DURATION", "250ms")
	if got := Duration("CALSYNC_TEST_DURATION", 3*time.Second); got != 250*time.Millisecond {
		t.Fatalf("unexpected duration %s", got)
	}
}

func TestIntAndBool_InvalidFallsBack(t *testing.T) {
	t.Setenv("CALSYNC_TEST_INT", "abc")
	if got := Int("CALSYNC_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	t.Setenv("CALSYNC_TEST_BOOL", "yes-please")
	if got := Bool("CALSYNC_TEST_BOOL", true); !got {
		t.Fatalf("expected fallback true")
	}
}

func TestLoadDotenv_MissingFileIsIgnored(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotenv returned error: %v", err)
	}
}

func TestLoadDotenv_DoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("CALSYNC_DOTENV_A=from-file\nCALSYNC_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CALSYNC_DOTENV_A", "from-env")
	t.Setenv("CALSYNC_DOTENV_B", "")
	os.Unsetenv("CALSYNC_DOTENV_B")

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv returned error: %v", err)
	}
	if got := os.Getenv("CALSYNC_DOTENV_A"); got != "from-env" {
		t.Fatalf("environment was overridden: %q", got)
	}
	if got := os.Getenv("CALSYNC_DOTENV_B"); got != "from-file" {
		t.Fatalf("file value not loaded: %q", got)
	}
}

func TestFloat(t *testing.T) {
	t.Setenv("CALSYNC_TEST_FLOAT", "0.25")
	if got := Float("CALSYNC_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("got %v want 0.25", got)
	}
	t.Setenv("CALSYNC_TEST_FLOAT", "lots")
	if got := Float("CALSYNC_TEST_FLOAT", 1); got != 1 {
		t.Fatalf("expected fallback, got %v", got)
	}
}
