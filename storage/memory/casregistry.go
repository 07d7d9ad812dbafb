package memory

import (
	"github.com/ipfs/go-cid"
	"github.com/spf13/pflag"

	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:          "memory",
		Description:   "In-process CAS (contents lost on exit)",
		Usage:         casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(*pflag.FlagSet) {},
		Open: func(p cid.Prefix) (storage.CAS, func() error, error) {
			return New(p), nil, nil
		},
		OpenConfig: func(p cid.Prefix, _ map[string]string) (storage.CAS, func() error, error) {
			return New(p), nil, nil
		},
	})
}
