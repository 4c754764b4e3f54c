package io

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// CreateAll creates (or truncates) a file together with its parent directories.
//
// `dmod` affects only newly created directories.
func CreateAll(name string, fmod os.FileMode, dmod os.FileMode) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(name), dmod); err != nil {
		return nil, err
	}
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, fmod)
}

// WriteOnce creates a file with content written by `write`, only when the
// file does not exist yet.
//
// # Returns
//
// - bool: true if the file is written by this call, false if it existed.
//
// - error: error on creating or writing. When `write` fails, the partial
// file is removed so that the next call can retry.
func WriteOnce(name string, fmod os.FileMode, write func(io.Writer) error) (bool, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fmod)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(name)
		return false, err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return false, err
	}
	return true, nil
}
