package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/model"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	r := runCLI(t, args...)
	if r.code != 0 {
		t.Fatalf("proots %s: exit %d\nstderr: %s", strings.Join(args, " "), r.code, r.stderr)
	}
	return strings.TrimSpace(r.stdout)
}

func TestRun_Usage(t *testing.T) {
	if r := runCLI(t); r.code != 2 {
		t.Fatalf("no args: exit %d", r.code)
	}
	if r := runCLI(t, "frobnicate"); r.code != 2 || !strings.Contains(r.stderr, "unknown command") {
		t.Fatalf("unknown command: %+v", r)
	}
	if r := runCLI(t, "help"); r.code != 0 || !strings.Contains(r.stdout, "proots build") {
		t.Fatalf("help: %+v", r)
	}
	if r := runCLI(t, "resolve", "not-a-cid", "--backend", "memory"); r.code != 2 || !strings.Contains(r.stderr, "invalid CID") {
		t.Fatalf("bad cid: %+v", r)
	}
	if r := runCLI(t, "build", "--backend", "memory", "--addr", "a", "--annot", "x:1"); r.code != 2 {
		t.Fatalf("bad --annot: %+v", r)
	}
	if r := runCLI(t, "build", "--backend", "memory", "--addr", "a", "--annot", "x:10:5:backwards"); r.code != 2 {
		t.Fatalf("from > end: %+v", r)
	}
	if r := runCLI(t, "build", "--backend", "memory", "--addr", "a", "--codec", "dag-pb"); r.code != 2 {
		t.Fatalf("unknown codec: %+v", r)
	}
	if r := runCLI(t, "build", "--no-such-flag"); r.code != 2 {
		t.Fatalf("unknown flag: %+v", r)
	}
}

func TestRun_Backends(t *testing.T) {
	out := mustRun(t, "backends")
	for _, name := range []string{"memory", "localfs", "ipfs", "grpc", "s3", "sql"} {
		if !strings.Contains(out, name) {
			t.Fatalf("backend %q not listed:\n%s", name, out)
		}
	}
}

func TestRun_BuildResolveAnnotate(t *testing.T) {
	dir := t.TempDir()
	store := []string{"--backend", "localfs", "--localfs-dir", dir}

	root := mustRun(t, append([]string{"build", "--addr", "addr1", "--seq", "AATCG",
		"--annot", "a0:0:2:start codon: maybe"}, store...)...)
	if _, err := cidutil.Parse(root); err != nil {
		t.Fatalf("build printed %q: %v", root, err)
	}

	again := mustRun(t, append([]string{"build", "--addr", "addr1", "--seq", "AATCG",
		"--annot", "a0:0:2:start codon: maybe"}, store...)...)
	if again != root {
		t.Fatalf("build not deterministic: %s vs %s", root, again)
	}

	text := mustRun(t, append([]string{"resolve", root}, store...)...)
	for _, want := range []string{"address:     addr1", "sequence:    AATCG", "annotations: 1", `a0 0..2 "start codon: maybe"`} {
		if !strings.Contains(text, want) {
			t.Fatalf("resolve output missing %q:\n%s", want, text)
		}
	}

	next := mustRun(t, append([]string{"annotate", root, "--addr", "a1", "--from", "3", "--end", "4", "--comment", "tail"}, store...)...)
	if next == root {
		t.Fatalf("annotate returned the original CID")
	}

	var view model.SequenceView
	if err := json.Unmarshal([]byte(mustRun(t, append([]string{"resolve", next, "--json"}, store...)...)), &view); err != nil {
		t.Fatalf("resolve --json: %v", err)
	}
	if view.CID != next || len(view.Annotations) != 2 {
		t.Fatalf("annotated view: %+v", view)
	}
	if a := view.Annotations[1]; a.Address != "a1" || a.From != 3 || a.End != 4 || a.Comment != "tail" {
		t.Fatalf("appended annotation: %+v", a)
	}

	// The original sequence is untouched.
	if err := json.Unmarshal([]byte(mustRun(t, append([]string{"resolve", root, "--json"}, store...)...)), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Annotations) != 1 {
		t.Fatalf("original sequence changed: %+v", view)
	}

	shallow := mustRun(t, append([]string{"resolve", next, "--shallow"}, store...)...)
	if !strings.Contains(shallow, "[1] b") {
		t.Fatalf("shallow resolve should list CIDs:\n%s", shallow)
	}

	if r := runCLI(t, append([]string{"annotate", root, "--addr", "x", "--from", "9", "--end", "1"}, store...)...); r.code != 1 || !strings.Contains(r.stderr, "record invalid") {
		t.Fatalf("annotate from > end: %+v", r)
	}
}

func TestRun_BuildJSONInput(t *testing.T) {
	dir := t.TempDir()
	store := []string{"--backend", "localfs", "--localfs-dir", dir, "--codec", "dag-json", "--hash", "blake3"}

	in := filepath.Join(t.TempDir(), "seq.json")
	body := `{"address":"addr1","sequence":"AATCG","annotations":[{"address":"x","from":1,"end":2,"comment":"c"}]}`
	if err := os.WriteFile(in, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	var resp model.BuildResponse
	if err := json.Unmarshal([]byte(mustRun(t, append([]string{"build", "--input", in, "--json"}, store...)...)), &resp); err != nil {
		t.Fatalf("build --json: %v", err)
	}
	if len(resp.Annotations) != 1 {
		t.Fatalf("build response: %+v", resp)
	}
	id, err := cidutil.Parse(resp.CID)
	if err != nil {
		t.Fatal(err)
	}
	if id.Type() != 0x0129 {
		t.Fatalf("expected dag-json root, got codec 0x%x", id.Type())
	}
	if r := runCLI(t, append([]string{"build", "--input", in, "--addr", "x"}, store...)...); r.code != 2 {
		t.Fatalf("--input with --addr: %+v", r)
	}
}

func TestRun_ErrorLines(t *testing.T) {
	dir := t.TempDir()
	store := []string{"--backend", "localfs", "--localfs-dir", dir}

	missing, err := cidutil.Sum(cidutil.DefaultPrefix, []byte("never stored"))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("not found", func(t *testing.T) {
		r := runCLI(t, append([]string{"resolve", missing.String()}, store...)...)
		if r.code != 1 || !strings.HasPrefix(r.stderr, "error: record not found") {
			t.Fatalf("%+v", r)
		}
	})

	t.Run("annotation failed", func(t *testing.T) {
		in := filepath.Join(t.TempDir(), "seq.json")
		body := `{"address":"s","sequence":"A","annotations":[{"address":"a","end":1},{"cid":"` + missing.String() + `"}]}`
		if err := os.WriteFile(in, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		root := mustRun(t, append([]string{"build", "--input", in}, store...)...)
		r := runCLI(t, append([]string{"resolve", root}, store...)...)
		if r.code != 1 || !strings.HasPrefix(r.stderr, "error: annotation 1 failed: record not found") {
			t.Fatalf("%+v", r)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		blob := filepath.Join(t.TempDir(), "blob")
		if err := os.WriteFile(blob, []byte("plainly not cbor"), 0o600); err != nil {
			t.Fatal(err)
		}
		id := mustRun(t, append([]string{"block", "put", blob}, store...)...)
		r := runCLI(t, append([]string{"resolve", id}, store...)...)
		if r.code != 1 || !strings.HasPrefix(r.stderr, "error: record malformed") {
			t.Fatalf("%+v", r)
		}
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		r := runCLI(t, append([]string{"build", "--addr", "addr1", "--seq", "AATCG", "--annot", "a:0:1:bad\xffcomment"}, store...)...)
		if r.code != 2 {
			t.Fatalf("--annot: %+v", r)
		}
		r = runCLI(t, append([]string{"build", "--addr", "addr\xff", "--seq", "AATCG"}, store...)...)
		if r.code != 1 || !strings.HasPrefix(r.stderr, "error: record invalid") {
			t.Fatalf("--addr: %+v", r)
		}
	})

	t.Run("cidv0", func(t *testing.T) {
		const v0 = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
		for _, cmd := range []string{"resolve", "block"} {
			args := []string{cmd, v0}
			if cmd == "block" {
				args = []string{"block", "get", v0}
			}
			r := runCLI(t, append(args, store...)...)
			if r.code != 1 || !strings.HasPrefix(r.stderr, "error: invalid CID") {
				t.Fatalf("%s: %+v", cmd, r)
			}
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		r := runCLI(t, "resolve", missing.String(), "--backend", "ipfs", "--ipfs-api", "http://127.0.0.1:1")
		if r.code != 1 || !strings.HasPrefix(r.stderr, "error: store unreachable") {
			t.Fatalf("%+v", r)
		}
	})
}

func TestRun_BlockAndCID(t *testing.T) {
	dir := t.TempDir()
	store := []string{"--backend", "localfs", "--localfs-dir", dir}

	file := filepath.Join(t.TempDir(), "data")
	payload := []byte("raw block bytes")
	if err := os.WriteFile(file, payload, 0o600); err != nil {
		t.Fatal(err)
	}

	predicted := mustRun(t, "cid", file)
	id := mustRun(t, append([]string{"block", "put", file}, store...)...)
	if id != predicted {
		t.Fatalf("cid predicted %s, put returned %s", predicted, id)
	}
	if got := mustRun(t, append([]string{"block", "has", id}, store...)...); got != "true" {
		t.Fatalf("block has: %q", got)
	}
	r := runCLI(t, append([]string{"block", "get", id}, store...)...)
	if r.code != 0 || r.stdout != string(payload) {
		t.Fatalf("block get: %+v", r)
	}

	blake := mustRun(t, "cid", "--hash", "blake3", file)
	if blake == predicted {
		t.Fatalf("--hash did not change the CID")
	}

	other := mustRun(t, "cid", "--hash", "blake2b-256", file)
	if r := runCLI(t, append([]string{"block", "has", other}, store...)...); r.code != 1 || strings.TrimSpace(r.stdout) != "false" {
		t.Fatalf("block has (absent): %+v", r)
	}
}

func TestRun_BundleExportImport(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := []string{"--backend", "localfs", "--localfs-dir", srcDir}
	dst := []string{"--backend", "localfs", "--localfs-dir", dstDir}

	root := mustRun(t, append([]string{"build", "--addr", "addr1", "--seq", "AATCG",
		"--annot", "a:0:1:x", "--annot", "b:2:3:y"}, src...)...)

	tarPath := filepath.Join(t.TempDir(), "seq.tar")
	mustRun(t, append([]string{"bundle", "export", "--out", tarPath, "--label", "demo=" + root, root}, src...)...)

	var report model.BundleReport
	if err := json.Unmarshal([]byte(mustRun(t, append([]string{"bundle", "import", "--json", tarPath}, dst...)...)), &report); err != nil {
		t.Fatalf("bundle import --json: %v", err)
	}
	if report.Blocks != 3 || len(report.Roots) != 1 || report.Roots[0] != root || report.Labels["demo"] != root {
		t.Fatalf("import report: %+v", report)
	}

	text := mustRun(t, append([]string{"resolve", root}, dst...)...)
	if !strings.Contains(text, "annotations: 2") {
		t.Fatalf("resolve after import:\n%s", text)
	}
}

func TestRun_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "cas.yaml")
	cfg := "codec: dag-json\nhash: blake2b-256\nbackends:\n  - name: localfs\n    config:\n      localfs-dir: " + dir + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	root := mustRun(t, "build", "--config", cfgPath, "--addr", "addr1", "--seq", "AATCG")
	id, err := cidutil.Parse(root)
	if err != nil {
		t.Fatal(err)
	}
	if id.Type() != 0x0129 || id.Prefix().MhType != cidutil.BLAKE2b256 {
		t.Fatalf("config prefix not applied: %s", id)
	}

	text := mustRun(t, "resolve", root, "--backend", "localfs", "--localfs-dir", dir)
	if !strings.Contains(text, "address:     addr1") {
		t.Fatalf("resolve:\n%s", text)
	}
}
