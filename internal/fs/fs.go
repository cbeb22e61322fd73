// Package fs is the minimal key/file get/put/enumerate/remove interface
// consumed by the persistence layers (spec section 2.2, 6.3), backed by
// github.com/spf13/afero so production code runs against the OS filesystem
// while tests run against an in-memory one without touching disk.
package fs

import (
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Adapter is the filesystem contract every persistence layer (Configuration,
// RequestStore, TransactionStore) is built on. Keys are flat file names
// under a single root prefix (spec section 6.3); Adapter does not interpret
// them beyond that.
type Adapter interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
	// Enumerate lists keys matching a glob-style prefix (e.g. "tx-1-*").
	Enumerate(globPattern string) ([]string, error)
	Remove(key string) error
}

// afs is an Adapter rooted under a directory of an afero.Fs.
type afs struct {
	fs   afero.Fs
	root string
	log  zerolog.Logger
}

// NewOsAdapter returns an Adapter persisting under root on the real
// filesystem.
func NewOsAdapter(root string) (Adapter, error) {
	a := afero.NewOsFs()
	if err := a.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &afs{fs: a, root: root, log: log.With().Str("component", "fs").Logger()}, nil
}

// NewMemAdapter returns an in-memory Adapter, used by tests and by the
// reboot-simulation scenarios in the package tests (spec section 8's
// "rebooting mid-transaction" property).
func NewMemAdapter(root string) Adapter {
	a := afero.NewMemMapFs()
	_ = a.MkdirAll(root, 0o755)
	return &afs{fs: a, root: root, log: log.With().Str("component", "fs").Logger()}
}

func (a *afs) path(key string) string {
	return path.Join(a.root, key)
}

func (a *afs) Get(key string) ([]byte, bool, error) {
	data, err := afero.ReadFile(a.fs, a.path(key))
	if err != nil {
		if isNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (a *afs) Put(key string, data []byte) error {
	tmp := a.path(key) + ".tmp"
	if err := afero.WriteFile(a.fs, tmp, data, 0o644); err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("write failed")
		return err
	}
	return a.fs.Rename(tmp, a.path(key))
}

func (a *afs) Remove(key string) error {
	err := a.fs.Remove(a.path(key))
	if err != nil && isNotExist(err) {
		return nil
	}
	return err
}

func (a *afs) Enumerate(globPattern string) ([]string, error) {
	entries, err := afero.ReadDir(a.fs, a.root)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		ok, err := path.Match(globPattern, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func isNotExist(err error) bool {
	return err != nil && (err == fs.ErrNotExist || strings.Contains(err.Error(), "file does not exist") || strings.Contains(err.Error(), "no such file"))
}
