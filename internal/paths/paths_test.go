package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseDirOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("SHIELDSMS_HOME", tmp)

	if BaseDir() != tmp {
		t.Errorf("BaseDir() = %q, want %q", BaseDir(), tmp)
	}
	if DBPath() != filepath.Join(tmp, "shield.db") {
		t.Errorf("DBPath() = %q", DBPath())
	}
	if SocketPath() != filepath.Join(tmp, "daemon.sock") {
		t.Errorf("SocketPath() = %q", SocketPath())
	}
}

func TestEnsureTree(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("SHIELDSMS_HOME", filepath.Join(tmp, "state"))

	if err := EnsureTree(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(LogDir())
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Error("LogDir() is not a directory")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}
}
