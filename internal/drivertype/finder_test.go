package drivertype

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const realDriversFileContents = `
/dev/tty             /dev/tty        5       0 system:/dev/tty
/dev/console         /dev/console    5       1 system:console
/dev/ptmx            /dev/ptmx       5       2 system
acm                  /dev/ttyACM   166 0-255 serial
g_serial             /dev/ttyGS    235       7 serial
ttynull              /dev/ttynull  240       0 console
serial               /dev/ttyS       4 64-95 serial
pty_slave            /dev/pts      136 0-1048575 pty:slave
pty_master           /dev/ptm      128 0-1048575 pty:master
`

func writeDriversFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drivers")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write drivers file: %v", err)
	}
	return path
}

func TestFindExisting(t *testing.T) {
	f := NewFromFile(writeDriversFile(t, realDriversFileContents))

	tests := []struct {
		major, minor uint32
		want         string
	}{
		{4, 64, "serial"},
		{4, 80, "serial"},
		{4, 95, "serial"},
		{5, 0, "system"},
		{5, 2, "system"},
		{166, 255, "serial"},
		{235, 7, "serial"},
		{240, 0, "console"},
		{136, 1048575, "pty"},
	}
	for _, tc := range tests {
		got, err := f.FindByDevnum(tc.major, tc.minor)
		if err != nil {
			t.Errorf("FindByDevnum(%d, %d): unexpected error: %v", tc.major, tc.minor, err)
			continue
		}
		if got != tc.want {
			t.Errorf("FindByDevnum(%d, %d) = %q, want %q", tc.major, tc.minor, got, tc.want)
		}
	}
}

func TestFindMissing(t *testing.T) {
	f := NewFromFile(writeDriversFile(t, realDriversFileContents))

	_, err := f.FindByDevnum(4, 96)
	if !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("FindByDevnum(4, 96) error = %v, want ErrDriverNotFound", err)
	}
}

func TestWrongNumberOfFields(t *testing.T) {
	f := NewFromFile(writeDriversFile(t, "/dev/tty /dev/tty 5 0"))

	if _, err := f.FindByDevnum(5, 0); err == nil {
		t.Fatal("expected error for a 4-field line")
	}
}

func TestNonDecimalMinorRange(t *testing.T) {
	f := NewFromFile(writeDriversFile(t, "acm /dev/ttyACM 166 00-FF serial"))

	if _, err := f.FindByDevnum(166, 255); err == nil {
		t.Fatal("expected error for a hex minor range")
	}
}

func TestFirstMatchWins(t *testing.T) {
	f := NewFromFile(writeDriversFile(t, `
first  /dev/ttyA 42 0-31 serial
second /dev/ttyB 42 0-63 console
`))

	got, err := f.FindByDevnum(42, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "serial" {
		t.Fatalf("FindByDevnum(42, 10) = %q, want %q (table order tie-break)", got, "serial")
	}
}

func TestReloadReplacesCache(t *testing.T) {
	path := writeDriversFile(t, "old /dev/ttyOLD 10 0 serial")
	f := NewFromFile(path)

	if _, err := f.FindByDevnum(10, 0); err != nil {
		t.Fatalf("initial lookup: %v", err)
	}

	if err := os.WriteFile(path, []byte("new /dev/ttyNEW 20 0 console"), 0o644); err != nil {
		t.Fatalf("rewrite drivers file: %v", err)
	}

	// A miss forces a reload, after which the old entry must be gone and
	// the new one present. The cache is all-new, never a mix.
	got, err := f.FindByDevnum(20, 0)
	if err != nil {
		t.Fatalf("lookup after rewrite: %v", err)
	}
	if got != "console" {
		t.Fatalf("FindByDevnum(20, 0) = %q, want %q", got, "console")
	}
	if _, err := f.FindByDevnum(10, 0); !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("stale entry survived reload: %v", err)
	}
}

func TestFailedReloadLeavesCacheEmpty(t *testing.T) {
	path := writeDriversFile(t, "serial /dev/ttyS 4 64-95 serial")
	f := NewFromFile(path)

	if _, err := f.FindByDevnum(4, 64); err != nil {
		t.Fatalf("initial lookup: %v", err)
	}

	if err := os.WriteFile(path, []byte("broken line"), 0o644); err != nil {
		t.Fatalf("rewrite drivers file: %v", err)
	}

	// The miss triggers a reload that fails to parse; the previous entries
	// are discarded rather than kept stale.
	if _, err := f.FindByDevnum(9999, 0); err == nil {
		t.Fatal("expected reload failure")
	}
	if _, err := f.FindByDevnum(4, 64); err == nil {
		t.Fatal("previously cached entry served after a failed reload")
	}
}

func TestFindResolvesDevnum(t *testing.T) {
	f := NewFromFile(writeDriversFile(t, realDriversFileContents))

	// Regular files have no device numbers; the stat succeeds but the
	// lookup must miss.
	path := filepath.Join(t.TempDir(), "not-a-device")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := f.Find(path); !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("Find on a regular file: %v, want ErrDriverNotFound", err)
	}

	// A missing path is an I/O error, not a classification miss.
	if _, err := f.Find(filepath.Join(t.TempDir(), "gone")); errors.Is(err, ErrDriverNotFound) || err == nil {
		t.Fatalf("Find on a missing path: %v, want a stat error", err)
	}
}
