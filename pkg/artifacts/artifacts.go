// Package artifacts writes files describing a run into the checkpoint directory.
package artifacts

import (
	"io"
	"os"
	"path/filepath"

	kio "github.com/opst/bertpretrain/pkg/io"
	"github.com/opst/bertpretrain/pkg/modules"
	"github.com/opst/bertpretrain/pkg/pipeline"
)

const (
	ModelConfigFilename = "bert-config.json"
	ManifestFilename    = "pipeline.yaml"
	GraphFilename       = "pipeline.dot"
)

// Prepare creates the checkpoint directory, if missing.
func Prepare(dir string) error {
	return os.MkdirAll(dir, os.FileMode(0o755))
}

// SaveModelConfig writes the model config as bert-config.json in dir,
// unless the file exists.
//
// # Returns
//
// - string: path to the config file.
//
// - bool: true if it is written by this call.
//
// - error
func SaveModelConfig(dir string, config modules.BertConfig) (string, bool, error) {
	path := filepath.Join(dir, ModelConfigFilename)
	written, err := kio.WriteOnce(path, os.FileMode(0o644), config.WriteJSON)
	return path, written, err
}

// SaveManifest writes pipeline.yaml in dir. Existing file is replaced.
func SaveManifest(dir string, manifest pipeline.Manifest) (string, error) {
	return save(dir, ManifestFilename, manifest.WriteYAML)
}

// SaveGraph writes pipeline.dot in dir. Existing file is replaced.
func SaveGraph(dir string, graph *pipeline.Graph) (string, error) {
	return save(dir, GraphFilename, graph.ToDot)
}

func save(dir string, name string, write func(io.Writer) error) (string, error) {
	path := filepath.Join(dir, name)
	f, err := kio.CreateAll(path, os.FileMode(0o644), os.FileMode(0o755))
	if err != nil {
		return "", err
	}
	if err := write(f); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
