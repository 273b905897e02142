package env

import (
	"testing"
	"time"
)

func TestString_DefaultAndOverride(t *testing.T) {
	if got := String("DEPLOY_TEST_STRING_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
	t.Setenv("DEPLOY_TEST_STRING", "  value ")
	if got := String("DEPLOY_TEST_STRING", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("DEPLOY_TEST_DURATION_MISSING", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("Duration()=%v err=%v, want 5s", got, err)
	}
	t.Setenv("DEPLOY_TEST_DURATION", "250ms")
	got, err = Duration("DEPLOY_TEST_DURATION", 5*time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v, want 250ms", got, err)
	}
	t.Setenv("DEPLOY_TEST_DURATION_BAD", "soon")
	if _, err := Duration("DEPLOY_TEST_DURATION_BAD", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestDuration_BlankKeepsDefault(t *testing.T) {
	t.Setenv("DEPLOY_TEST_DURATION_BLANK", "   ")
	got, err := Duration("DEPLOY_TEST_DURATION_BLANK", time.Minute)
	if err != nil || got != time.Minute {
		t.Fatalf("Duration()=%v err=%v, want 1m", got, err)
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("DEPLOY_TEST_BOOL", "false")
	b, err := Bool("DEPLOY_TEST_BOOL", true)
	if err != nil || b {
		t.Fatalf("Bool()=%v err=%v, want false", b, err)
	}
	t.Setenv("DEPLOY_TEST_BOOL_BAD", "nope")
	if _, err := Bool("DEPLOY_TEST_BOOL_BAD", false); err == nil {
		t.Fatalf("Bool() expected error")
	}
	t.Setenv("DEPLOY_TEST_INT", "7")
	i, err := Int("DEPLOY_TEST_INT", 42)
	if err != nil || i != 7 {
		t.Fatalf("Int()=%v err=%v, want 7", i, err)
	}
	t.Setenv("DEPLOY_TEST_INT_BAD", "seven")
	if _, err := Int("DEPLOY_TEST_INT_BAD", 42); err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestCSV(t *testing.T) {
	t.Setenv("DEPLOY_TEST_CSV", "a, b,,c ")
	got := CSV("DEPLOY_TEST_CSV", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("CSV()=%v", got)
	}
	def := CSV("DEPLOY_TEST_CSV_MISSING", []string{"x"})
	if len(def) != 1 || def[0] != "x" {
		t.Fatalf("CSV() default=%v", def)
	}
}

func TestOneOf(t *testing.T) {
	t.Setenv("DEPLOY_TEST_BACKEND", "Postgres")
	got, err := OneOf("DEPLOY_TEST_BACKEND", "memory", "memory", "postgres")
	if err != nil || got != "postgres" {
		t.Fatalf("OneOf()=%q err=%v", got, err)
	}
	t.Setenv("DEPLOY_TEST_BACKEND_BAD", "mongo")
	if _, err := OneOf("DEPLOY_TEST_BACKEND_BAD", "memory", "memory", "postgres"); err == nil {
		t.Fatalf("OneOf() expected error")
	}
}
