package logger

import "testing"

func TestNoOpNeverPanics(t *testing.T) {
	var l Logger = NewNoOp()
	l.Debug("debug", String("k", "v"))
	l.Info("info", Int("n", 1))
	l.Warn("warn")
	l.Error("error", Err(nil))
	scoped := l.With(String("job", "x"))
	scoped.Info("scoped")
}

func TestNewBuildsAZapBackedLogger(t *testing.T) {
	l, err := New(DefaultConfig("test-service"))
	if err != nil {
		t.Fatalf("unexpected error building logger: %v", err)
	}
	if l == nil {
		t.Fatal("expected a non-nil logger")
	}
	l.Info("hello", String("k", "v"))
}
