package sigfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"sigtool.dev/sigtool/sigerr"
)

const filePerm = 0o644

// WriteFile stores e at path. The file is written under a temporary name in
// the same directory and renamed into place, so a reader never sees a
// partial envelope. An existing file is replaced.
func WriteFile(path string, e Envelope) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".sig-*")
	if err != nil {
		return sigerr.Wrap(sigerr.KindStorage, err, "write signature %s", path)
	}
	tmpName := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpName)
			err = sigerr.Wrap(sigerr.KindStorage, err, "write signature %s", path)
		}
	}()

	if err = f.Chmod(filePerm); err != nil {
		return err
	}
	if _, err = f.Write(Marshal(e)); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadFile loads an envelope written by WriteFile, or a file holding its
// hex rendering.
func ReadFile(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Envelope{}, sigerr.Wrap(sigerr.KindUsage, err, "signature file %s", path)
		}
		return Envelope{}, sigerr.Wrap(sigerr.KindStorage, err, "read signature %s", path)
	}
	e, err := Decode(data)
	if err != nil {
		return Envelope{}, sigerr.Wrap(sigerr.KindMalformedSignature, err, "signature file %s", path)
	}
	return e, nil
}
