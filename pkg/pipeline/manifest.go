package pipeline

import (
	"io"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/opst/bertpretrain/pkg/configs/run"
	"gopkg.in/yaml.v3"
)

// Manifest describes a run for the training worker.
type Manifest struct {
	RunId   string `yaml:"run_id"`
	RunName string `yaml:"run_name"`

	Placement Placement `yaml:"placement"`

	VocabSize  int      `yaml:"vocab_size"`
	Objectives []string `yaml:"objectives"`

	Nodes          []ManifestNode   `yaml:"nodes"`
	Edges          []ManifestEdge   `yaml:"edges"`
	TiedParameters []TiedParameter  `yaml:"tied_parameters"`
	Branches       []ManifestBranch `yaml:"branches"`

	Optimization Optimization `yaml:"optimization"`
	Checkpoint   Checkpoint   `yaml:"checkpoint"`
}

// Placement tells where the worker should put the model.
type Placement struct {
	// Device is "all_gpu" for distributed training, "gpu" otherwise.
	Device    string `yaml:"device"`
	LocalRank *int   `yaml:"local_rank"`
	NumGPUs   int    `yaml:"num_gpus"`

	// Precision is the mixed precision level, "O0" to "O3".
	Precision string `yaml:"precision"`

	Host Host `yaml:"host"`
}

// Host is the CPU of the machine assembling the pipeline.
type Host struct {
	OS           string   `yaml:"os"`
	Arch         string   `yaml:"arch"`
	CPU          string   `yaml:"cpu"`
	PhysicalCore int      `yaml:"physical_cores"`
	LogicalCore  int      `yaml:"logical_cores"`
	AVX512       bool     `yaml:"avx512"`
	Features     []string `yaml:"features,flow"`
}

func DetectHost() Host {
	return Host{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		CPU:          cpuid.CPU.BrandName,
		PhysicalCore: cpuid.CPU.PhysicalCores,
		LogicalCore:  cpuid.CPU.LogicalCores,
		AVX512:       cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
		Features:     cpuid.CPU.FeatureSet(),
	}
}

type ManifestNode struct {
	Id              NodeId         `yaml:"id"`
	Kind            string         `yaml:"kind"`
	Active          bool           `yaml:"active"`
	Hyperparameters map[string]any `yaml:"hyperparameters,omitempty"`
	Parameters      []ManifestParameter `yaml:"parameters,omitempty"`
}

// ManifestParameter is a weight of a node, with its (rows, columns).
type ManifestParameter struct {
	Name  string `yaml:"name"`
	Shape [2]int `yaml:"shape,flow"`
}

type ManifestEdge struct {
	Branch string `yaml:"branch"`
	From   NodeId `yaml:"from"`
	To     NodeId `yaml:"to"`
	Label  string `yaml:"label"`
}

// TiedParameter is a parameter shared by modules.
type TiedParameter struct {
	Parameter string   `yaml:"parameter"`
	SharedBy  []NodeId `yaml:"shared_by,flow"`
}

type ManifestBranch struct {
	Name          string `yaml:"name"`
	DatasetDir    string `yaml:"dataset_dir"`
	IndexFilename string `yaml:"sentence_indices_filename"`
	BatchSize     int    `yaml:"batch_size"`
	Examples      int    `yaml:"examples"`
	Objective     NodeId `yaml:"objective"`
}

// Optimization is passed to the optimizer of the worker as is.
type Optimization struct {
	Optimizer      string     `yaml:"optimizer"`
	BatchSize      int        `yaml:"batch_size"`
	NumEpochs      int        `yaml:"num_epochs"`
	LR             float64    `yaml:"lr"`
	WeightDecay    float64    `yaml:"weight_decay"`
	Betas          [2]float64 `yaml:"betas,flow"`
	GradNormClip   *float64   `yaml:"grad_norm_clip"`
	BatchesPerStep int        `yaml:"batches_per_step"`
	LRDecayPolicy  string     `yaml:"lr_decay_policy"`
	WarmupRatio    float64    `yaml:"lr_warmup_proportion"`
}

type Checkpoint struct {
	Directory     string `yaml:"directory"`
	SaveFrequency int    `yaml:"save_frequency"`
}

// Manifest describes the pipeline assembled with cfg.
func (p *Pipeline) Manifest(runId string, runName string, cfg *run.RunConfig) Manifest {
	placement := Placement{
		Device:    "gpu",
		NumGPUs:   cfg.NumGPUs(),
		Precision: cfg.Precision().Level(),
		Host:      DetectHost(),
	}
	if rank, ok := cfg.LocalRank(); ok {
		placement.Device = "all_gpu"
		placement.LocalRank = &rank
	}

	objectives := []string{}
	for _, o := range p.objectives {
		objectives = append(objectives, string(o))
	}

	mods := p.Modules()
	nodes := []ManifestNode{}
	for id, n := range p.Graph.Nodes.Iter() {
		mn := ManifestNode{Id: id, Kind: n.Kind, Active: n.Active}
		if m, ok := mods[id]; ok {
			mn.Hyperparameters = m.Hyperparameters()
			for _, param := range m.Parameters() {
				rows, cols := param.Shape()
				mn.Parameters = append(mn.Parameters, ManifestParameter{
					Name: param.Name(), Shape: [2]int{rows, cols},
				})
			}
		}
		nodes = append(nodes, mn)
	}

	edges := []ManifestEdge{}
	for _, e := range p.Graph.Edges {
		edges = append(edges, ManifestEdge{Branch: e.Branch, From: e.FromId, To: e.ToId, Label: e.Label})
	}

	tied := []TiedParameter{}
	if p.WeightsTied() {
		tied = append(tied, TiedParameter{
			Parameter: p.Encoder.WordEmbeddings.Name(),
			SharedBy:  []NodeId{Encoder, MLMLogSoftmax},
		})
	}

	branches := []ManifestBranch{}
	for _, b := range []Branch{p.Train, p.Dev} {
		branches = append(branches, ManifestBranch{
			Name:          b.Name,
			DatasetDir:    b.DataDir,
			IndexFilename: b.IndexFilename,
			BatchSize:     b.Data.BatchSize(),
			Examples:      b.Data.Len(),
			Objective:     b.Objective,
		})
	}

	return Manifest{
		RunId:          runId,
		RunName:        runName,
		Placement:      placement,
		VocabSize:      p.VocabSize,
		Objectives:     objectives,
		Nodes:          nodes,
		Edges:          edges,
		TiedParameters: tied,
		Branches:       branches,
		Optimization: Optimization{
			Optimizer:      cfg.Optimizer(),
			BatchSize:      cfg.BatchSize(),
			NumEpochs:      cfg.NumEpochs(),
			LR:             cfg.LR(),
			WeightDecay:    cfg.WeightDecay(),
			Betas:          cfg.Betas(),
			GradNormClip:   nil,
			BatchesPerStep: cfg.BatchPerStep(),
			LRDecayPolicy:  cfg.LRDecayPolicy(),
			WarmupRatio:    cfg.LRWarmupProportion(),
		},
		Checkpoint: Checkpoint{
			Directory:     cfg.CheckpointDirectory(),
			SaveFrequency: cfg.CheckpointSaveFrequency(),
		},
	}
}

// WriteYAML writes m in YAML.
func (m Manifest) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// ReadManifest reads a manifest written by WriteYAML.
func ReadManifest(r io.Reader) (Manifest, error) {
	m := Manifest{}
	err := yaml.NewDecoder(r).Decode(&m)
	return m, err
}
