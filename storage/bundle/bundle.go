// Package bundle moves record DAGs between stores as deterministic TAR
// archives.
//
// Layout:
//
//	blocks/<cid>   raw block bytes, one entry per block, sorted by CID
//	index.json     optional, non-authoritative: roots, labels, block list
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/codec"
	"github.com/Proots-Foundation/pRoots-command-line/ipld"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

// FormatVersion is the current bundle index schema version.
const FormatVersion = 2

var epoch0 = time.Unix(0, 0).UTC()

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// Recursive follows the links of every exported block whose codec is
	// known, so a root CID brings its whole DAG along.
	Recursive bool
	// Labels is optional, non-authoritative metadata mapping names to CIDs.
	Labels map[string]cid.Cid
	// IncludeIndex controls whether index.json is included.
	IncludeIndex bool
}

// Export writes a deterministic TAR bundle containing the blocks for the
// given roots (and, with Recursive, everything they link to).
//
// The bundle bytes are deterministic: entry order is lexicographic and TAR
// headers are normalized. All exported bytes are validated against their CIDs.
func Export(ctx context.Context, w io.Writer, cas storage.CAS, roots []cid.Cid, opts ExportOptions) error {
	if cas == nil {
		return fmt.Errorf("bundle: nil CAS")
	}
	for _, id := range roots {
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
	}

	blocks, err := collect(ctx, cas, roots, opts.Recursive)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tar.NewWriter(w)
	index := make([]indexBlock, 0, len(keys))
	for _, k := range keys {
		if err := writeFile(tw, "blocks/"+k, blocks[k]); err != nil {
			_ = tw.Close()
			return err
		}
		id, _ := cid.Decode(k)
		index = append(index, indexBlock{
			CID:   k,
			Codec: codecName(id.Type()),
			Hash:  cidutil.HashName(id.Prefix().MhType),
			Size:  len(blocks[k]),
		})
	}

	if opts.IncludeIndex {
		b, err := buildIndex(roots, index, opts.Labels)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "index.json", b); err != nil {
			_ = tw.Close()
			return err
		}
	}

	return tw.Close()
}

// collect fetches roots and, when recursive, walks their links breadth
// first. Blocks are keyed by CID text.
func collect(ctx context.Context, cas storage.CAS, roots []cid.Cid, recursive bool) (map[string][]byte, error) {
	out := make(map[string][]byte)
	queue := append([]cid.Cid(nil), roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		key := id.String()
		if _, ok := out[key]; ok {
			continue
		}
		b, err := cas.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("bundle: get %s: %w", key, err)
		}
		if err := storage.VerifyBlock(id, b); err != nil {
			return nil, err
		}
		out[key] = b
		if !recursive {
			continue
		}
		c, err := codec.ForCID(id)
		if err != nil {
			// Opaque block: nothing to follow.
			continue
		}
		v, err := c.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("bundle: walk %s: %w", key, err)
		}
		queue = append(queue, ipld.Links(v)...)
	}
	return out, nil
}

func codecName(code uint64) string {
	if c, err := codec.Lookup(code); err == nil {
		return c.Name()
	}
	return fmt.Sprintf("0x%x", code)
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown controls whether unknown TAR entries are ignored.
	//
	// Default (false) is fail-closed: unknown entries cause Import to return an error.
	IgnoreUnknown bool
}

// ImportResult reports what a bundle contained.
type ImportResult struct {
	// Blocks lists every imported block in bundle order.
	Blocks []cid.Cid
	// Roots and Labels come from index.json when present.
	Roots  []cid.Cid
	Labels map[string]cid.Cid
}

// Import reads a bundle from r and imports all blocks into cas.
//
// It validates that each block's bytes match the CID in its entry name and
// that cas stores it under that same CID, which requires cas to be
// configured with the block's prefix.
func Import(ctx context.Context, r io.Reader, cas storage.CAS, opts ImportOptions) (ImportResult, error) {
	var res ImportResult
	if cas == nil {
		return res, fmt.Errorf("bundle: nil CAS")
	}

	tr := tar.NewReader(r)
	seen := map[string]struct{}{}

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return res, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}

		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if name == "index.json" {
			b, err := io.ReadAll(tr)
			if err != nil {
				return res, err
			}
			if err := res.readIndex(b); err != nil {
				return res, err
			}
			continue
		}

		if !strings.HasPrefix(name, "blocks/") {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return res, fmt.Errorf("bundle: unknown entry: %s", name)
		}

		id, derr := cid.Decode(strings.TrimPrefix(name, "blocks/"))
		if derr != nil || !id.Defined() {
			return res, storage.ErrInvalidCID
		}

		payload, rerr := io.ReadAll(tr)
		if rerr != nil {
			return res, rerr
		}
		if err := storage.VerifyBlock(id, payload); err != nil {
			return res, err
		}

		key := id.String()
		if _, ok := seen[key]; ok {
			return res, fmt.Errorf("bundle: duplicate block entry: %s", key)
		}
		seen[key] = struct{}{}

		putID, perr := cas.Put(ctx, payload)
		if perr != nil {
			return res, perr
		}
		if !putID.Equals(id) {
			return res, fmt.Errorf("%w: store wrote %s for %s (prefix differs)", storage.ErrCIDMismatch, putID, id)
		}
		res.Blocks = append(res.Blocks, id)
	}
}

type indexJSON struct {
	Version int          `json:"version"`
	Roots   []string     `json:"roots"`
	Blocks  []indexBlock `json:"blocks"`
	Labels  []indexLabel `json:"labels,omitempty"`
}

type indexBlock struct {
	CID   string `json:"cid"`
	Codec string `json:"codec"`
	Hash  string `json:"hash"`
	Size  int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

func buildIndex(roots []cid.Cid, blocks []indexBlock, labels map[string]cid.Cid) ([]byte, error) {
	idx := indexJSON{Version: FormatVersion, Blocks: blocks}
	rootSet := map[string]struct{}{}
	for _, r := range roots {
		rootSet[r.String()] = struct{}{}
	}
	for r := range rootSet {
		idx.Roots = append(idx.Roots, r)
	}
	sort.Strings(idx.Roots)

	if len(labels) > 0 {
		keys := make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "" {
				return nil, fmt.Errorf("bundle: empty label key")
			}
			v := labels[k]
			if !v.Defined() {
				return nil, storage.ErrInvalidCID
			}
			idx.Labels = append(idx.Labels, indexLabel{Name: k, CID: v.String()})
		}
	}

	// indexJSON is composed only of structs + slices; encoding/json is deterministic.
	b, err := json.Marshal(idx)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (r *ImportResult) readIndex(b []byte) error {
	var idx indexJSON
	if err := json.Unmarshal(b, &idx); err != nil {
		return fmt.Errorf("bundle: index.json: %w", err)
	}
	if idx.Version != FormatVersion {
		return fmt.Errorf("bundle: index.json: unsupported version %d", idx.Version)
	}
	for _, s := range idx.Roots {
		id, err := cid.Decode(s)
		if err != nil {
			return fmt.Errorf("bundle: index.json root %q: %w", s, err)
		}
		r.Roots = append(r.Roots, id)
	}
	for _, l := range idx.Labels {
		id, err := cid.Decode(l.CID)
		if err != nil {
			return fmt.Errorf("bundle: index.json label %q: %w", l.Name, err)
		}
		if r.Labels == nil {
			r.Labels = map[string]cid.Cid{}
		}
		r.Labels[l.Name] = id
	}
	return nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}

	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
