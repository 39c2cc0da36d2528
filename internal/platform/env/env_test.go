package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	got := String("QA_ENV_STRING_DOES_NOT_EXIST", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("QA_ENV_STRING_KEY", "value")
	got := String("QA_ENV_STRING_KEY", "fallback")
	if got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("QA_ENV_DURATION_DOES_NOT_EXIST", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("Duration()=%v err=%v, want 5s", got, err)
	}
	t.Setenv("QA_ENV_DURATION_KEY", "250ms")
	got, err = Duration("QA_ENV_DURATION_KEY", 5*time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v, want 250ms", got, err)
	}
	t.Setenv("QA_ENV_DURATION_KEY", "soon")
	if _, err := Duration("QA_ENV_DURATION_KEY", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("QA_ENV_BOOL_KEY", "false")
	b, err := Bool("QA_ENV_BOOL_KEY", true)
	if err != nil || b {
		t.Fatalf("Bool()=%v err=%v, want false", b, err)
	}
	t.Setenv("QA_ENV_BOOL_KEY", "nope")
	if _, err := Bool("QA_ENV_BOOL_KEY", false); err == nil {
		t.Fatalf("Bool() expected error")
	}

	t.Setenv("QA_ENV_INT_KEY", " 7 ")
	i, err := Int("QA_ENV_INT_KEY", 42)
	if err != nil || i != 7 {
		t.Fatalf("Int()=%v err=%v, want 7", i, err)
	}
	t.Setenv("QA_ENV_INT_KEY", "seven")
	if _, err := Int("QA_ENV_INT_KEY", 42); err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestCSV(t *testing.T) {
	if got := CSV("QA_ENV_CSV_DOES_NOT_EXIST", []string{"a"}); len(got) != 1 || got[0] != "a" {
		t.Fatalf("CSV() default=%v", got)
	}
	t.Setenv("QA_ENV_CSV_KEY", "image/png, ,application/pdf")
	got := CSV("QA_ENV_CSV_KEY", nil)
	if len(got) != 2 || got[0] != "image/png" || got[1] != "application/pdf" {
		t.Fatalf("CSV()=%v", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("QA_ENV_DOTENV_KEY=from-file\nQA_ENV_DOTENV_SET=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("QA_ENV_DOTENV_SET", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("QA_ENV_DOTENV_KEY") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv() err=%v", err)
	}
	if got := os.Getenv("QA_ENV_DOTENV_KEY"); got != "from-file" {
		t.Fatalf("QA_ENV_DOTENV_KEY=%q, want from-file", got)
	}
	if got := os.Getenv("QA_ENV_DOTENV_SET"); got != "from-env" {
		t.Fatalf("QA_ENV_DOTENV_SET=%q, want from-env", got)
	}
}
