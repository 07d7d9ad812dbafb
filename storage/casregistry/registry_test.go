package casregistry

import (
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/spf13/pflag"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

type stubCAS struct {
	storage.CAS
	prefix cid.Prefix
	dir    string
}

func registerStub(t *testing.T, name string, usage Usage) *string {
	t.Helper()
	dir := new(string)
	err := Register(Backend{
		Name:        name,
		Description: "stub",
		Usage:       usage,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.StringVar(dir, name+"-dir", "", "")
		},
		Open: func(p cid.Prefix) (storage.CAS, func() error, error) {
			return stubCAS{prefix: p, dir: *dir}, nil, nil
		},
		OpenConfig: func(p cid.Prefix, cfg map[string]string) (storage.CAS, func() error, error) {
			return stubCAS{prefix: p, dir: cfg[name+"-dir"]}, nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return dir
}

func TestRegistry_FlagsAndOpen(t *testing.T) {
	registerStub(t, "stub-cli", UsageCLI)
	registerStub(t, "stub-daemon", UsageDaemon)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, UsageCLI)
	if err := fs.Parse([]string{"--stub-cli-dir", "/data"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if fs.Lookup("stub-daemon-dir") != nil {
		t.Fatalf("daemon-only flag registered for CLI usage")
	}

	cas, _, err := Open("stub-cli", UsageCLI, cidutil.DefaultPrefix)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := cas.(stubCAS)
	if s.dir != "/data" || s.prefix != cidutil.DefaultPrefix {
		t.Fatalf("Open did not see parsed flags: %+v", s)
	}

	if _, _, err := Open("stub-daemon", UsageCLI, cidutil.DefaultPrefix); err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("expected usage rejection, got %v", err)
	}
	if _, _, err := Open("nope", UsageCLI, cidutil.DefaultPrefix); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestRegistry_OpenWithConfig(t *testing.T) {
	registerStub(t, "stub-config", UsageCLI|UsageDaemon)
	cas, _, err := OpenWithConfig("stub-config", UsageDaemon, cidutil.DefaultPrefix, map[string]string{"stub-config-dir": "/cfg"})
	if err != nil {
		t.Fatalf("OpenWithConfig: %v", err)
	}
	if cas.(stubCAS).dir != "/cfg" {
		t.Fatalf("config not applied")
	}
}

func TestRegistry_RejectsIncompleteAndDuplicate(t *testing.T) {
	if err := Register(Backend{Name: "incomplete", Usage: UsageCLI}); err == nil {
		t.Fatalf("expected error for backend without hooks")
	}
	registerStub(t, "stub-dup", UsageCLI)
	err := Register(Backend{
		Name:          "stub-dup",
		Usage:         UsageCLI,
		RegisterFlags: func(*pflag.FlagSet) {},
		Open:          func(cid.Prefix) (storage.CAS, func() error, error) { return nil, nil, nil },
		OpenConfig:    func(cid.Prefix, map[string]string) (storage.CAS, func() error, error) { return nil, nil, nil },
	})
	if err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	names := Names(UsageCLI)
	if len(names) == 0 {
		t.Fatalf("Names returned nothing")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Names not sorted: %v", names)
		}
	}
}
