package kvstore

import (
	"net/url"
	"path/filepath"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
)

// NewStore opens a store from a URL: leveldb:///abs/path or
// leveldb://./rel/path for disk backed stores, memory:// for tests.
func NewStore(logger ulogger.Logger, name string, storeURL *url.URL, opts Options) (Store, error) {
	switch storeURL.Scheme {
	case "memory":
		return NewMemory(logger, name), nil
	case "leveldb":
		path := storeURL.Path
		if storeURL.Host == "." {
			path = filepath.Join(".", path)
		}

		if path == "" {
			return nil, errors.NewConfigurationError("leveldb store %s needs a path", name)
		}

		return New(logger, name, path, opts)
	}

	return nil, errors.NewConfigurationError("unknown store scheme: %s", storeURL.Scheme)
}

// PathURL returns the leveldb URL of a directory.
func PathURL(path string) *url.URL {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return &url.URL{Scheme: "leveldb", Path: filepath.ToSlash(abs)}
}
