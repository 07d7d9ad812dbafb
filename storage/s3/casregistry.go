package s3

import (
	"context"
	"strconv"

	"github.com/ipfs/go-cid"
	"github.com/spf13/pflag"

	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/casregistry"
)

var flagConfig Config

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "s3",
		Description: "S3-compatible bucket (AWS S3, MinIO)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.StringVar(&flagConfig.Bucket, "s3-bucket", "", "Bucket name (for --backend=s3)")
			fs.StringVar(&flagConfig.Region, "s3-region", "us-east-1", "Bucket region")
			fs.StringVar(&flagConfig.Endpoint, "s3-endpoint", "", "Custom endpoint URL, e.g. MinIO")
			fs.StringVar(&flagConfig.KeyPrefix, "s3-key-prefix", "", "Prefix prepended to object keys")
			fs.BoolVar(&flagConfig.PathStyle, "s3-path-style", false, "Use path-style addressing")
		},
		Open: func(p cid.Prefix) (storage.CAS, func() error, error) {
			return open(flagConfig, p)
		},
		OpenConfig: func(p cid.Prefix, m map[string]string) (storage.CAS, func() error, error) {
			cfg := Config{
				Bucket:          m["s3-bucket"],
				Region:          m["s3-region"],
				Endpoint:        m["s3-endpoint"],
				KeyPrefix:       m["s3-key-prefix"],
				AccessKeyID:     m["s3-access-key-id"],
				SecretAccessKey: m["s3-secret-access-key"],
			}
			if v := m["s3-path-style"]; v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					return nil, nil, err
				}
				cfg.PathStyle = b
			}
			return open(cfg, p)
		},
	})
}

func open(cfg Config, p cid.Prefix) (storage.CAS, func() error, error) {
	cas, err := New(context.Background(), cfg, p)
	if err != nil {
		return nil, nil, err
	}
	return cas, nil, nil
}
