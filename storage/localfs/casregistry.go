package localfs

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/spf13/pflag"

	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/casregistry"
	"github.com/Proots-Foundation/pRoots-command-line/storage/compress"
)

var (
	flagLocalDir         string
	flagLocalCompression string
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem CAS (directory)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.StringVar(&flagLocalDir, "localfs-dir", "", "LocalFS CAS directory (for --backend=localfs)")
			fs.StringVar(&flagLocalCompression, "localfs-compression", "none", "At-rest compression: none, lz4, zstd")
		},
		Open: func(p cid.Prefix) (storage.CAS, func() error, error) {
			return open(p, flagLocalDir, flagLocalCompression)
		},
		OpenConfig: func(p cid.Prefix, cfg map[string]string) (storage.CAS, func() error, error) {
			return open(p, cfg["localfs-dir"], cfg["localfs-compression"])
		},
	})
}

func open(p cid.Prefix, dir, compression string) (storage.CAS, func() error, error) {
	if dir == "" {
		return nil, nil, fmt.Errorf("missing --localfs-dir")
	}
	alg, err := compress.Parse(compression)
	if err != nil {
		return nil, nil, err
	}
	cas, err := New(dir, p, WithCompression(alg))
	if err != nil {
		return nil, nil, err
	}
	return cas, nil, nil
}
