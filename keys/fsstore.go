package keys

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"sigtool.dev/sigtool/sigerr"
)

const (
	lockFileName   = ".lock"
	keyFileExt     = ".key"
	tempPrefix     = ".tmp-"
	dirPerm        = 0o700
	filePerm       = 0o600
	defaultDirName = ".sig-tool"

	DefaultLockTimeout = 5 * time.Second
	lockRetryDelay     = 25 * time.Millisecond
)

// FSStore is a Store backed by a directory with one JSON file per key.
//
// Inserts hold an exclusive advisory lock on <dir>/.lock while checking for
// an existing name and publishing the new file, so concurrent processes
// sharing a directory cannot both claim a name. Files are written to a
// temporary name and renamed into place; readers never take the lock and
// never observe a partial record.
type FSStore struct {
	dir         string
	lockTimeout time.Duration
	log         zerolog.Logger
}

type FSOption func(*FSStore)

// WithLockTimeout bounds how long Insert waits for the directory lock.
func WithLockTimeout(d time.Duration) FSOption {
	return func(s *FSStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) FSOption {
	return func(s *FSStore) { s.log = l }
}

// DefaultDirectory returns ~/.sig-tool.
func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", sigerr.Wrap(sigerr.KindStorage, err, "locate home directory")
	}
	return filepath.Join(homeDir, defaultDirName), nil
}

// OpenFS opens (creating if needed) a key directory. An empty dir selects
// DefaultDirectory.
func OpenFS(dir string, opts ...FSOption) (*FSStore, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, sigerr.Wrap(sigerr.KindStorage, err, "create key directory %s", dir)
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindStorage, err, "stat key directory %s", dir)
	}
	if !st.IsDir() {
		return nil, sigerr.New(sigerr.KindStorage, "key directory %s is not a directory", dir)
	}
	s := &FSStore{dir: dir, lockTimeout: DefaultLockTimeout, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	// A pre-existing directory keeps its mode under MkdirAll.
	if perm := st.Mode().Perm(); perm&^dirPerm != 0 {
		if err := os.Chmod(dir, dirPerm); err != nil {
			s.log.Warn().Err(err).Str("dir", dir).Str("mode", perm.String()).Msg("key directory is accessible to other users")
		} else {
			s.log.Info().Str("dir", dir).Str("mode", perm.String()).Msg("restricted key directory permissions")
		}
	}
	return s, nil
}

func (s *FSStore) Dir() string { return s.dir }

func (s *FSStore) recordPath(name string) string {
	return filepath.Join(s.dir, name+keyFileExt)
}

func (s *FSStore) Insert(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	path := s.recordPath(rec.Name)
	if _, err := os.Lstat(path); err == nil {
		return sigerr.New(sigerr.KindDuplicateName, "key %q already exists", rec.Name)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return sigerr.Wrap(sigerr.KindStorage, err, "check key %q", rec.Name)
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	defer clear(data)

	if err := s.writeFile(path, data); err != nil {
		return sigerr.Wrap(sigerr.KindStorage, err, "write key %q", rec.Name)
	}
	s.log.Debug().Str("key", rec.Name).Str("scheme", rec.Scheme.String()).Str("path", path).Msg("key record written")
	return nil
}

// lock acquires the directory lock, polling until ctx or the lock timeout
// expires.
func (s *FSStore) lock(ctx context.Context) (func(), error) {
	l := flock.New(filepath.Join(s.dir, lockFileName), flock.SetPermissions(filePerm))

	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	start := time.Now()
	ok, err := l.TryLockContext(lctx, lockRetryDelay)
	if err != nil || !ok {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, sigerr.Wrap(sigerr.KindTimeout, err, "acquire lock on %s", s.dir)
		}
		return nil, sigerr.Wrap(sigerr.KindStorage, err, "acquire lock on %s", s.dir)
	}
	if waited := time.Since(start); waited > lockRetryDelay {
		s.log.Debug().Dur("waited", waited).Msg("acquired key directory lock")
	}
	return func() {
		if err := l.Unlock(); err != nil {
			s.log.Warn().Err(err).Msg("release key directory lock")
		}
	}, nil
}

func (s *FSStore) writeFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(filePerm); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}
	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename already
	// happened, so only report real I/O failures.
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, name string) (Record, error) {
	if err := CheckKeyName(name); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, sigerr.Wrap(sigerr.KindTimeout, err, "get key %q", name)
	}
	data, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, sigerr.New(sigerr.KindNotFound, "key %q not found", name)
		}
		return Record{}, sigerr.Wrap(sigerr.KindStorage, err, "read key %q", name)
	}
	defer clear(data)

	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, sigerr.Wrap(sigerr.KindInvalidKey, err, "key %q", name)
	}
	if rec.Name != name {
		rec.Wipe()
		return Record{}, sigerr.New(sigerr.KindInvalidKey, "key file %s holds key %q", s.recordPath(name), rec.Name)
	}
	if err := rec.Validate(); err != nil {
		rec.Wipe()
		return Record{}, err
	}
	return rec, nil
}

// List yields identities of every key file in the directory. Private keys
// are never decoded. Temporary files and the lock file are skipped.
func (s *FSStore) List(ctx context.Context) iter.Seq2[Identity, error] {
	return func(yield func(Identity, error) bool) {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield(Identity{}, sigerr.Wrap(sigerr.KindStorage, err, "read key directory %s", s.dir))
			return
		}

		var names []string
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			name, ok := strings.CutSuffix(entry.Name(), keyFileExt)
			if !ok || strings.HasPrefix(name, tempPrefix) || CheckKeyName(name) != nil {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				yield(Identity{}, sigerr.Wrap(sigerr.KindTimeout, err, "list keys"))
				return
			}
			id, err := s.readIdentity(name)
			if !yield(id, err) {
				return
			}
		}
	}
}

func (s *FSStore) readIdentity(name string) (Identity, error) {
	data, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Identity{}, sigerr.New(sigerr.KindNotFound, "key %q not found", name)
		}
		return Identity{}, sigerr.Wrap(sigerr.KindStorage, err, "read key %q", name)
	}
	defer clear(data)

	id, err := decodeIdentity(data)
	if err != nil {
		return Identity{Name: name}, sigerr.Wrap(sigerr.KindInvalidKey, err, "key %q", name)
	}
	if id.Name != name {
		return Identity{Name: name}, sigerr.New(sigerr.KindInvalidKey, "key file %s holds key %q", s.recordPath(name), id.Name)
	}
	return id, nil
}
