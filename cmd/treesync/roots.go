package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/treesync/treesync/internal/store"
	"github.com/treesync/treesync/internal/store/cryptostore"
	"github.com/treesync/treesync/internal/store/localfs"
	"github.com/treesync/treesync/internal/store/s3store"
)

// resolveRoot turns a root argument into a store directory handle. Bare
// paths and file:// URIs map to the local backend, s3://bucket/prefix to
// the object-store backend. With encrypt set, the root is wrapped in the
// encryption adapter keyed from TREESYNC_PASSPHRASE.
func resolveRoot(ctx context.Context, arg string, encrypt bool) (store.Directory, error) {
	root, err := openRoot(ctx, arg)
	if err != nil {
		return nil, err
	}
	if !encrypt {
		return root, nil
	}

	passphrase := viper.GetString("passphrase")
	if passphrase == "" {
		return nil, fmt.Errorf("encrypted root %s needs TREESYNC_PASSPHRASE", arg)
	}
	keys, err := cryptostore.KeyringFromPassphrase(passphrase, nil)
	if err != nil {
		return nil, err
	}
	return cryptostore.Wrap(root, keys, cryptostore.Options{
		EncryptNames: viper.GetBool("encrypt-names"),
	}), nil
}

func openRoot(ctx context.Context, arg string) (store.Directory, error) {
	switch {
	case strings.HasPrefix(arg, "s3://"):
		u, err := url.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", arg, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("%s: missing bucket name", arg)
		}
		return s3store.Open(ctx, &s3store.Config{
			Bucket:    u.Host,
			Prefix:    strings.TrimPrefix(u.Path, "/"),
			Region:    viper.GetString("s3_region"),
			Endpoint:  viper.GetString("s3_endpoint"),
			AccessKey: viper.GetString("s3_access_key"),
			SecretKey: viper.GetString("s3_secret_key"),
		})

	case strings.HasPrefix(arg, "file://"):
		return localfs.Open(strings.TrimPrefix(arg, "file://"))

	default:
		return localfs.Open(arg)
	}
}
