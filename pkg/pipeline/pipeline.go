// Package pipeline assembles modules and data layers of BERT pretraining into a graph.
//
// The graph has two branches, "train" and "dev". They route through the same
// encoder, heads and losses, and differ only in their data layer.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/opst/bertpretrain/pkg/configs/run"
	"github.com/opst/bertpretrain/pkg/dataset"
	"github.com/opst/bertpretrain/pkg/modules"
	"github.com/opst/bertpretrain/pkg/tokenizer"
)

const (
	BranchTrain = "train"
	BranchDev   = "dev"
)

// Branch is a route from a data layer to an objective.
type Branch struct {
	Name string
	Data *dataset.DataLayer

	// DataDir and IndexFilename locate the dataset of Data.
	DataDir       string
	IndexFilename string

	Encoder *modules.Encoder
	MLMHead *modules.MLMLogSoftmax
	MLMLoss *modules.MLMLoss

	// Objective is the node whose output is the loss of the branch.
	Objective NodeId
}

type Pipeline struct {
	VocabSize int

	Encoder    *modules.Encoder
	MLMHead    *modules.MLMLogSoftmax
	MLMLoss    *modules.MLMLoss
	NSPHead    *modules.NSPLogSoftmax
	NSPLoss    *modules.NSPLoss
	Aggregator *modules.LossAggregator

	Train Branch
	Dev   Branch

	Graph *Graph

	objectives run.Objectives
	datasets   []*dataset.Dataset
}

// WeightsTied tells whether the projection of the MLM head is the word embeddings of the encoder.
func (p *Pipeline) WeightsTied() bool {
	return modules.Tied(p.MLMHead.Weight, p.Encoder.WordEmbeddings)
}

// Objectives returns active objectives.
func (p *Pipeline) Objectives() run.Objectives {
	return append(run.Objectives{}, p.objectives...)
}

// Modules returns modules by their node id.
func (p *Pipeline) Modules() map[NodeId]modules.Module {
	return map[NodeId]modules.Module{
		Encoder:        p.Encoder,
		MLMLogSoftmax:  p.MLMHead,
		MLMLoss:        p.MLMLoss,
		NSPLogSoftmax:  p.NSPHead,
		NSPLoss:        p.NSPLoss,
		LossAggregator: p.Aggregator,
	}
}

// Close releases datasets.
func (p *Pipeline) Close() error {
	var errs []error
	for _, ds := range p.datasets {
		errs = append(errs, ds.Close())
	}
	p.datasets = nil
	return errors.Join(errs...)
}

// Assemble builds modules and data layers, ties weights and declares the graph.
//
// Datasets are opened (and their sentence indices built if missing) here.
// Other paths are not verified.
func Assemble(logger *log.Logger, cfg *run.RunConfig, tok tokenizer.Tokenizer) (*Pipeline, error) {
	vocabSize := tokenizer.AlignedVocabSize(tok.VocabSize(), 8)

	encoder, err := modules.NewEncoder(modules.EncoderConfig{
		VocabSize:         vocabSize,
		DModel:            cfg.DModel(),
		DInner:            cfg.DInner(),
		NumLayers:         cfg.NumLayers(),
		NumHeads:          cfg.NumHeads(),
		MaxSequenceLength: cfg.MaxSequenceLength(),
		HiddenAct:         "gelu",
		EmbeddingDropout:  cfg.EmbeddingDropout(),
		FFNDropout:        cfg.FFNDropout(),
		AttnScoreDropout:  cfg.AttnScoreDropout(),
		AttnLayerDropout:  cfg.AttnLayerDropout(),
	})
	if err != nil {
		return nil, err
	}
	mlmHead, err := modules.NewMLMLogSoftmax(vocabSize, cfg.DModel())
	if err != nil {
		return nil, err
	}
	nspHead, err := modules.NewNSPLogSoftmax(cfg.DModel(), 2)
	if err != nil {
		return nil, err
	}
	aggregator, err := modules.NewLossAggregator(2)
	if err != nil {
		return nil, err
	}

	if err := modules.Tie(&mlmHead.Weight, encoder.WordEmbeddings); err != nil {
		return nil, err
	}

	p := &Pipeline{
		VocabSize:  vocabSize,
		Encoder:    encoder,
		MLMHead:    mlmHead,
		MLMLoss:    &modules.MLMLoss{},
		NSPHead:    nspHead,
		NSPLoss:    &modules.NSPLoss{},
		Aggregator: aggregator,
		objectives: cfg.Objectives(),
	}

	seed := uint64(cfg.Seed())
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	for _, b := range []struct {
		dest          *Branch
		name          string
		dir           string
		indexFilename string
		batchSize     int
		seed          uint64
	}{
		{
			dest: &p.Train, name: BranchTrain,
			dir: cfg.DatasetDir(), indexFilename: cfg.TrainSentenceIndicesFilename(),
			batchSize: cfg.BatchSize(), seed: seed,
		},
		{
			dest: &p.Dev, name: BranchDev,
			dir: cfg.DevDatasetDir(), indexFilename: cfg.DevSentenceIndicesFilename(),
			batchSize: cfg.EvalBatchSize(), seed: seed + 1,
		},
	} {
		ds, err := dataset.Open(logger, b.dir, b.indexFilename, tok, dataset.Options{
			MaxSequenceLength: cfg.MaxSequenceLength(),
			MaskProbability:   cfg.MaskProbability(),
			Exclude: []string{
				cfg.TrainSentenceIndicesFilename(),
				cfg.DevSentenceIndicesFilename(),
			},
			Seed: b.seed,
		})
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("%s dataset: %w", b.name, err)
		}
		p.datasets = append(p.datasets, ds)

		*b.dest = Branch{
			Name:          b.name,
			Data:          dataset.NewDataLayer(b.name, ds, b.batchSize, b.seed),
			DataDir:       b.dir,
			IndexFilename: b.indexFilename,
			Encoder:       p.Encoder,
			MLMHead:       p.MLMHead,
			MLMLoss:       p.MLMLoss,
		}
		logger.Printf("%s dataset: %d sentences in %s", b.name, ds.Len(), b.dir)
	}

	graph, err := declare(p.objectives.Has(run.NSP))
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Graph = graph
	p.Train.Objective = objectiveOf(graph, BranchTrain)
	p.Dev.Objective = objectiveOf(graph, BranchDev)

	return p, nil
}

// declare builds the graph of both branches.
//
// When withNSP is false, NSP nodes and the aggregator are left without edges.
func declare(withNSP bool) (*Graph, error) {
	g := NewGraph()
	g.AddNode(TrainData, "data_layer")
	g.AddNode(DevData, "data_layer")
	g.AddNode(Encoder, string(modules.KindEncoder))
	g.AddNode(MLMLogSoftmax, string(modules.KindMLMLogSoftmax))
	g.AddNode(MLMLoss, string(modules.KindMLMLoss))
	g.AddNode(NSPLogSoftmax, string(modules.KindNSPLogSoftmax))
	g.AddNode(NSPLoss, string(modules.KindNSPLoss))
	g.AddNode(LossAggregator, string(modules.KindLossAggregator))

	for _, b := range []struct {
		name string
		data NodeId
	}{
		{name: BranchTrain, data: TrainData},
		{name: BranchDev, data: DevData},
	} {
		edges := []Edge{
			{FromId: b.data, ToId: Encoder, Label: "input_ids, input_type_ids, input_mask"},
			{FromId: Encoder, ToId: MLMLogSoftmax, Label: "hidden_states"},
			{FromId: MLMLogSoftmax, ToId: MLMLoss, Label: "log_probs"},
			{FromId: b.data, ToId: MLMLoss, Label: "output_ids, output_mask"},
		}
		if withNSP {
			edges = append(
				edges,
				Edge{FromId: Encoder, ToId: NSPLogSoftmax, Label: "hidden_states"},
				Edge{FromId: NSPLogSoftmax, ToId: NSPLoss, Label: "log_probs"},
				Edge{FromId: b.data, ToId: NSPLoss, Label: "labels"},
				Edge{FromId: MLMLoss, ToId: LossAggregator, Label: "loss_1"},
				Edge{FromId: NSPLoss, ToId: LossAggregator, Label: "loss_2"},
			)
		}
		for _, e := range edges {
			if err := g.Connect(b.name, e.FromId, e.ToId, e.Label); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// objectiveOf finds the node which has no downstream in the branch.
func objectiveOf(g *Graph, branch string) NodeId {
	edges := g.EdgesOf(branch)
	hasDownstream := map[NodeId]bool{}
	for _, e := range edges {
		hasDownstream[e.FromId] = true
	}
	for _, e := range edges {
		if !hasDownstream[e.ToId] {
			return e.ToId
		}
	}
	return ""
}
