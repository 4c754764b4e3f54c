package dataset

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	kio "github.com/opst/bertpretrain/pkg/io"
)

// ErrEmptyDataset is returned when a dataset has no files with two or more sentences.
var ErrEmptyDataset = errors.New("dataset has no usable files")

// SentenceIndex locates sentences (non-blank lines) in files of a dataset directory.
type SentenceIndex struct {
	Files []FileSentences
}

// FileSentences is byte offsets of sentences in a file.
type FileSentences struct {
	// Name is the file name relative to the dataset directory.
	Name    string
	Offsets []int64
}

// Len is the count of sentences in the index.
func (si *SentenceIndex) Len() int {
	n := 0
	for _, f := range si.Files {
		n += len(f.Offsets)
	}
	return n
}

// BuildIndex scans regular files directly in dir.
//
// Files with less than 2 sentences are left out. Files named in exclude are skipped,
// and so are binary files (having a NUL byte in their first 512 bytes).
func BuildIndex(dir string, exclude ...string) (*SentenceIndex, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	index := &SentenceIndex{Files: []FileSentences{}}
	for _, e := range entries {
		if !e.Type().IsRegular() || slices.Contains(exclude, e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if bin, err := isBinary(path); err != nil {
			return nil, err
		} else if bin {
			continue
		}
		offsets, err := scanSentences(path)
		if err != nil {
			return nil, err
		}
		if len(offsets) < 2 {
			continue
		}
		index.Files = append(index.Files, FileSentences{Name: e.Name(), Offsets: offsets})
	}
	return index, nil
}

func isBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}
	return slices.Contains(head[:n], 0), nil
}

func scanSentences(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	offsets := []int64{}
	r := bufio.NewReader(f)
	var pos int64
	for {
		line, err := r.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			offsets = append(offsets, pos)
		}
		pos += int64(len(line))
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", path, err)
		}
	}
	return offsets, nil
}

// LoadOrBuildIndex reads the index cached in dir/filename.
// If there is no such file, it builds an index and saves it there.
//
// The cache itself and files named in exclude are not indexed.
//
// returns:
//
// - *SentenceIndex
//
// - bool: true if the index is built, not loaded.
//
// - error
func LoadOrBuildIndex(logger *log.Logger, dir string, filename string, exclude ...string) (*SentenceIndex, bool, error) {
	cache := filepath.Join(dir, filename)

	f, err := os.Open(cache)
	if err == nil {
		defer f.Close()
		index := &SentenceIndex{}
		if err := gob.NewDecoder(f).Decode(index); err != nil {
			return nil, false, fmt.Errorf("broken sentence index %s: %w", cache, err)
		}
		return index, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	logger.Printf("building sentence index for %s", dir)
	index, err := BuildIndex(dir, append([]string{filename}, exclude...)...)
	if err != nil {
		return nil, false, err
	}

	written, err := kio.WriteOnce(cache, os.FileMode(0o644), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(index)
	})
	if err != nil {
		return nil, false, fmt.Errorf("saving sentence index %s: %w", cache, err)
	}
	if written {
		logger.Printf("sentence index is saved as %s (%d files, %d sentences)", cache, len(index.Files), index.Len())
	}
	return index, true, nil
}
