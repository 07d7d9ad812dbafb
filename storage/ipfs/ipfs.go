// Package ipfs stores blocks in an IPFS node through the Kubo HTTP RPC API
// (/api/v0/block/*).
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/codec"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

// DefaultAPI is the address a local Kubo daemon listens on.
const DefaultAPI = "http://127.0.0.1:5001"

// CAS is a content-addressable store backed by a Kubo node.
//
// Transport/reachability is not validity: every block read back is verified
// against the requested CID, and every write must be answered with the CID
// the local prefix yields.
type CAS struct {
	api     *url.URL
	client  *http.Client
	prefix  cid.Prefix
	codec   string
	pin     bool
	offline bool
}

var _ storage.CAS = (*CAS)(nil)

type Options struct {
	// API is the base URL of the RPC endpoint. If empty, DefaultAPI is used.
	API string
	// Prefix selects the codec and hash passed to block/put.
	Prefix cid.Prefix
	// Pin pins written blocks so the node's GC keeps them.
	Pin bool
	// Offline stops the node from searching the network on reads, so a
	// missing block is reported at once instead of after Timeout.
	Offline bool
	// Timeout bounds each request when non-zero.
	Timeout time.Duration
	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
}

func New(opts Options) (*CAS, error) {
	api := opts.API
	if api == "" {
		api = DefaultAPI
	}
	u, err := url.Parse(strings.TrimRight(api, "/"))
	if err != nil {
		return nil, fmt.Errorf("ipfs: api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ipfs: api url %q must be http or https", api)
	}
	p := opts.Prefix
	if p == (cid.Prefix{}) {
		p = cidutil.DefaultPrefix
	}
	cd, err := codec.Lookup(p.Codec)
	if err != nil {
		return nil, fmt.Errorf("ipfs: %w", err)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &CAS{api: u, client: client, prefix: p, codec: cd.Name(), pin: opts.Pin, offline: opts.Offline}, nil
}

type blockStat struct {
	Key  string `json:"Key"`
	Size int64  `json:"Size"`
}

// rpcError is the body Kubo sends with a non-200 status.
type rpcError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	expected, err := cidutil.Sum(c.prefix, data)
	if err != nil {
		return cid.Undef, storage.WriteFailed("ipfs block/put", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("data", "block")
	if err != nil {
		return cid.Undef, storage.WriteFailed("ipfs block/put", err)
	}
	if _, err := part.Write(data); err != nil {
		return cid.Undef, storage.WriteFailed("ipfs block/put", err)
	}
	if err := mw.Close(); err != nil {
		return cid.Undef, storage.WriteFailed("ipfs block/put", err)
	}

	q := url.Values{}
	q.Set("cid-codec", c.codec)
	q.Set("mhtype", cidutil.HashName(c.prefix.MhType))
	q.Set("mhlen", strconv.Itoa(cidutil.DigestLength))
	q.Set("pin", strconv.FormatBool(c.pin))

	resp, err := c.call(ctx, "block/put", q, &body, mw.FormDataContentType())
	if err != nil {
		return cid.Undef, err
	}
	var stat blockStat
	if err := json.Unmarshal(resp, &stat); err != nil {
		return cid.Undef, storage.WriteFailed("ipfs block/put", fmt.Errorf("unexpected response: %w", err))
	}
	got, err := cid.Decode(stat.Key)
	if err != nil {
		return cid.Undef, storage.ErrInvalidCID
	}
	if !got.Equals(expected) {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return got, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := storage.CheckCID(id); err != nil {
		return nil, err
	}
	b, err := c.call(ctx, "block/get", c.argQuery(id), nil, "")
	if err != nil {
		return nil, err
	}
	if err := storage.VerifyBlock(id, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	_, err := c.call(ctx, "block/stat", c.argQuery(id), nil, "")
	switch {
	case err == nil:
		return true, nil
	case storage.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (c *CAS) argQuery(id cid.Cid) url.Values {
	q := url.Values{}
	q.Set("arg", id.String())
	if c.offline {
		q.Set("offline", "true")
	}
	return q
}

// call POSTs to one RPC endpoint and returns the response body. Every
// Kubo RPC endpoint takes POST.
func (c *CAS) call(ctx context.Context, endpoint string, q url.Values, body io.Reader, contentType string) ([]byte, error) {
	op := "ipfs " + endpoint
	u := *c.api
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v0/" + endpoint
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("ipfs: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, storage.Unavailable(op, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, storage.Unavailable(op, err)
	}
	if resp.StatusCode == http.StatusOK {
		return b, nil
	}

	var re rpcError
	_ = json.Unmarshal(b, &re)
	msg := re.Message
	if msg == "" {
		msg = strings.TrimSpace(string(b))
	}
	switch {
	case isNotFound(msg):
		return nil, storage.ErrNotFound
	case resp.StatusCode >= 500 && re.Type != "error":
		// Gateway or proxy failure rather than an RPC-level error.
		return nil, storage.Unavailable(op, fmt.Errorf("http %d: %s", resp.StatusCode, msg))
	case endpoint == "block/put":
		return nil, storage.WriteFailed(op, fmt.Errorf("http %d: %s", resp.StatusCode, msg))
	default:
		return nil, fmt.Errorf("ipfs: %s: http %d: %s", endpoint, resp.StatusCode, msg)
	}
}

func isNotFound(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not found") || strings.Contains(m, "could not find")
}

// Prefix returns the prefix new blocks are addressed under.
func (c *CAS) Prefix() cid.Prefix { return c.prefix }
