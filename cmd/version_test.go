package cmd

import (
	"strings"
	"testing"
)

func TestCurrentVersion(t *testing.T) {
	info := currentVersion()
	if info.Version != Version || info.GoVersion == "" || !strings.Contains(info.Platform, "/") {
		t.Errorf("unexpected version info: %+v", info)
	}
	if info.Commit == "" || info.BuildDate == "" {
		t.Errorf("commit and build date must never be empty: %+v", info)
	}
}
