package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/spf13/pflag"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/codec"
	"github.com/Proots-Foundation/pRoots-command-line/internal/logging"
	"github.com/Proots-Foundation/pRoots-command-line/model"
	"github.com/Proots-Foundation/pRoots-command-line/proots"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/casconfig"
	"github.com/Proots-Foundation/pRoots-command-line/storage/casregistry"

	_ "github.com/Proots-Foundation/pRoots-command-line/storage/grpccas"
	_ "github.com/Proots-Foundation/pRoots-command-line/storage/ipfs"
	_ "github.com/Proots-Foundation/pRoots-command-line/storage/localfs"
	_ "github.com/Proots-Foundation/pRoots-command-line/storage/memory"
	_ "github.com/Proots-Foundation/pRoots-command-line/storage/s3"
	_ "github.com/Proots-Foundation/pRoots-command-line/storage/sqlstore"
)

// errUsage marks failures that exit with status 2.
var errUsage = errors.New("usage")

type prefixFlags struct {
	codec string
	hash  string
}

func (p *prefixFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&p.codec, "codec", "dag-cbor", "record codec: "+strings.Join(codec.Names(), ", "))
	fs.StringVar(&p.hash, "hash", cidutil.HashSHA2_256, "multihash for new CIDs: sha2-256, blake3, blake2b-256")
}

func (p prefixFlags) resolve() (codec.Codec, cid.Prefix, error) {
	c, err := codec.ByName(p.codec)
	if err != nil {
		return nil, cid.Prefix{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	h, err := cidutil.ParseHash(p.hash)
	if err != nil {
		return nil, cid.Prefix{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	return c, cidutil.Prefix(c.Code(), h), nil
}

type commonFlags struct {
	fs *pflag.FlagSet

	backend     string
	configPath  string
	concurrency int
	prefix      prefixFlags
	log         logging.Flags
}

func newFlagSet(name string, errOut io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.SortFlags = false
	return fs
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	c.fs = fs
	fs.StringVar(&c.backend, "backend", "localfs", "CAS backend name")
	fs.StringVar(&c.configPath, "config", "", "CAS config file (overrides --backend)")
	fs.IntVar(&c.concurrency, "concurrency", proots.DefaultConcurrency, "parallel annotation store operations (0 = unbounded)")
	c.prefix.add(fs)
	c.log.Register(fs)
	casregistry.RegisterFlags(fs, casregistry.UsageCLI)
}

// session is an opened store plus the record options derived from flags.
type session struct {
	store  storage.CAS
	codec  codec.Codec
	logger *slog.Logger
	close  func() error

	concurrency int
}

func (c *commonFlags) open(errOut io.Writer) (*session, error) {
	logger, err := c.log.Logger(errOut, "proots")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}

	var (
		store   storage.CAS
		closeFn func() error
		cd      codec.Codec
		name    string
	)
	if c.configPath != "" {
		cfg, err := casconfig.LoadFile(c.configPath)
		if err != nil {
			return nil, err
		}
		if c.fs.Changed("codec") {
			cfg.Codec = c.prefix.codec
		}
		if c.fs.Changed("hash") {
			cfg.Hash = c.prefix.hash
		}
		if cd, err = codec.ByName(cfg.Codec); err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		preferred := ""
		if c.fs.Changed("backend") {
			preferred = c.backend
		}
		store, closeFn, err = cfg.Open(casregistry.UsageCLI, preferred)
		if err != nil {
			return nil, err
		}
		name = "config"
	} else {
		var p cid.Prefix
		cd, p, err = c.prefix.resolve()
		if err != nil {
			return nil, err
		}
		store, closeFn, err = casregistry.Open(c.backend, casregistry.UsageCLI, p)
		if err != nil {
			return nil, err
		}
		name = c.backend
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}

	logger.Debug("store opened", "backend", name, "codec", cd.Name())
	return &session{
		store:       &storage.Instrumented{Name: name, CAS: store, Logger: logger},
		codec:       cd,
		logger:      logger,
		close:       closeFn,
		concurrency: c.concurrency,
	}, nil
}

func (s *session) options() []proots.Option {
	return []proots.Option{
		proots.WithCodec(s.codec),
		proots.WithConcurrency(s.concurrency),
		proots.WithLogger(s.logger),
	}
}

func printBackends(w io.Writer) {
	for _, b := range casregistry.List(casregistry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(w, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
	}
}

// fail prints err and returns the exit status for it.
//
// Store and record failures print one line led by their class, such as
// "store unreachable" or "annotation 2 failed: record not found".
func fail(errOut io.Writer, err error) int {
	if errors.Is(err, errUsage) {
		fmt.Fprintf(errOut, "usage error: %s\n", strings.TrimPrefix(err.Error(), errUsage.Error()+": "))
		return 2
	}
	ce := model.Classify(err)
	fmt.Fprintf(errOut, "error: %s: %s\n", ce.Headline(), ce.Message)
	return 1
}

func parseCIDArg(s string) (cid.Cid, error) {
	id, err := cidutil.Parse(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: invalid CID %q: %v", errUsage, s, err)
	}
	return id, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func closeSession(s *session, errOut io.Writer) {
	if err := s.close(); err != nil {
		fmt.Fprintf(errOut, "warning: close store: %v\n", err)
	}
}
