package sqlstore

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/spf13/pflag"

	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/casregistry"
	"github.com/Proots-Foundation/pRoots-command-line/storage/compress"
)

var (
	flagDialect     string
	flagDSN         string
	flagCompression string
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "sql",
		Description: "SQL table (sqlite file or postgres)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.StringVar(&flagDialect, "sql-dialect", "sqlite", "Database: sqlite or postgres (for --backend=sql)")
			fs.StringVar(&flagDSN, "sql-dsn", "", "SQLite file path or postgres DSN")
			fs.StringVar(&flagCompression, "sql-compression", "none", "At-rest compression: none, lz4, zstd")
		},
		Open: func(p cid.Prefix) (storage.CAS, func() error, error) {
			return open(p, flagDialect, flagDSN, flagCompression)
		},
		OpenConfig: func(p cid.Prefix, cfg map[string]string) (storage.CAS, func() error, error) {
			return open(p, cfg["sql-dialect"], cfg["sql-dsn"], cfg["sql-compression"])
		},
	})
}

func open(p cid.Prefix, dialect, dsn, compression string) (storage.CAS, func() error, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, nil, err
	}
	alg, err := compress.Parse(compression)
	if err != nil {
		return nil, nil, err
	}
	cas, err := Open(context.Background(), d, dsn, p, WithCompression(alg))
	if err != nil {
		return nil, nil, err
	}
	return cas, cas.Close, nil
}
