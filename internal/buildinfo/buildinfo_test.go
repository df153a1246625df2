package buildinfo

import "testing"

func stamp(t *testing.T, version, commit string) {
	t.Helper()
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })
	Version, Commit = version, commit
}

func TestShort(t *testing.T) {
	stamp(t, "dev", "unknown")
	if got := Short(); got != "dev" {
		t.Fatalf("Short() = %q, want dev", got)
	}
	stamp(t, "dev", "0123456789abcdef0123")
	if got := Short(); got != "0123456789ab" {
		t.Fatalf("Short() = %q, want abbreviated commit", got)
	}
	stamp(t, "v0.3.0", "0123456789abcdef0123")
	if got := Short(); got != "v0.3.0" {
		t.Fatalf("Short() = %q, want v0.3.0", got)
	}
}

func TestString(t *testing.T) {
	stamp(t, "v0.3.0", "abc")
	if got, want := String(), "rtx v0.3.0 (commit abc, built unknown)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
