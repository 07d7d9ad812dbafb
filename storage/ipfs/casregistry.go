package ipfs

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/spf13/pflag"

	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/casregistry"
)

var (
	flagAPI     string
	flagPin     bool
	flagOffline bool
	flagTimeout time.Duration
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "ipfs",
		Description: "IPFS node via the Kubo HTTP RPC API",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.StringVar(&flagAPI, "ipfs-api", DefaultAPI, "Kubo RPC API base URL (for --backend=ipfs)")
			fs.BoolVar(&flagPin, "ipfs-pin", true, "Pin written blocks (for --backend=ipfs)")
			fs.BoolVar(&flagOffline, "ipfs-offline", false, "Do not search the network for missing blocks")
			fs.DurationVar(&flagTimeout, "ipfs-timeout", time.Minute, "Per-request timeout; 0 disables")
		},
		Open: func(p cid.Prefix) (storage.CAS, func() error, error) {
			return open(Options{API: flagAPI, Prefix: p, Pin: flagPin, Offline: flagOffline, Timeout: flagTimeout})
		},
		OpenConfig: func(p cid.Prefix, cfg map[string]string) (storage.CAS, func() error, error) {
			opts := Options{API: cfg["ipfs-api"], Prefix: p, Pin: true, Timeout: time.Minute}
			var err error
			if v := cfg["ipfs-pin"]; v != "" {
				if opts.Pin, err = strconv.ParseBool(v); err != nil {
					return nil, nil, fmt.Errorf("ipfs-pin: %w", err)
				}
			}
			if v := cfg["ipfs-offline"]; v != "" {
				if opts.Offline, err = strconv.ParseBool(v); err != nil {
					return nil, nil, fmt.Errorf("ipfs-offline: %w", err)
				}
			}
			if v := cfg["ipfs-timeout"]; v != "" {
				if opts.Timeout, err = time.ParseDuration(v); err != nil {
					return nil, nil, fmt.Errorf("ipfs-timeout: %w", err)
				}
			}
			return open(opts)
		},
	})
}

func open(opts Options) (storage.CAS, func() error, error) {
	cas, err := New(opts)
	if err != nil {
		return nil, nil, err
	}
	return cas, nil, nil
}
