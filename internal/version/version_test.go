package version

import "testing"

func TestString(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	Version = "0.3.0"
	Commit = "abc1234"
	BuildTime = "2024-01-15T10:00:00Z"

	want := "0.3.0 (abc1234) built 2024-01-15T10:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestInfo(t *testing.T) {
	origCommit := Commit
	defer func() { Commit = origCommit }()

	Commit = "def5678"
	info := Info()
	if info["commit"] != "def5678" {
		t.Errorf("commit = %q, want ldflags value", info["commit"])
	}
	if info["version"] != Version {
		t.Errorf("version = %q, want %q", info["version"], Version)
	}

	Commit = "unknown"
	if Info()["commit"] == "" {
		t.Error("commit should never be empty")
	}
}
