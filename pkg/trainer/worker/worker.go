// Package worker runs the training backend as a subprocess.
//
// The process talks JSON lines: one request per line on its stdin, one
// reply per line on its stdout. Requests are
//
//	{"type": "init", "run_id": "...", "manifest": "/path/to/pipeline.yaml"}
//	{"type": "train", "step": {"step": 0, "epoch": 0, "lr": 0.0001, "batches": [...]}}
//	{"type": "eval", "batch": {...}}
//	{"type": "checkpoint", "dir": "./checkpoint", "checkpoint_step": 25000}
//	{"type": "shutdown"}
//
// and replies are {"loss": 1.23} for train and eval, {} for others, or
// {"error": "message"} on failure.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/opst/bertpretrain/pkg/dataset"
	"github.com/opst/bertpretrain/pkg/trainer"
)

// ErrWorker is returned when the worker fails or replies with error.
var ErrWorker = errors.New("training worker error")

const (
	TypeInit       = "init"
	TypeTrain      = "train"
	TypeEval       = "eval"
	TypeCheckpoint = "checkpoint"
	TypeShutdown   = "shutdown"
)

// Request is a line sent to the worker.
type Request struct {
	Type string `json:"type"`

	RunId    string `json:"run_id,omitempty"`
	Manifest string `json:"manifest,omitempty"`

	TrainStep *trainer.TrainStep `json:"step,omitempty"`
	Batch     *dataset.Batch     `json:"batch,omitempty"`

	Dir            string `json:"dir,omitempty"`
	CheckpointStep int    `json:"checkpoint_step,omitempty"`
}

// Reply is a line received from the worker.
type Reply struct {
	Loss  *float64 `json:"loss,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Process is a trainer.Backend running in a subprocess.
type Process struct {
	logger *log.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *json.Encoder
	dec    *json.Decoder

	mu     sync.Mutex
	closed bool
}

var _ trainer.Backend = &Process{}

// ShutdownTimeout is how long Close waits the worker to exit.
var ShutdownTimeout = 10 * time.Second

// Start launches command and sends init request.
//
// Stderr of the worker goes to the logger's writer.
func Start(ctx context.Context, logger *log.Logger, command []string, runId string, manifest string) (*Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: no worker command", ErrWorker)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stderr = logger.Writer()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %w", ErrWorker, command[0], err)
	}

	p := &Process{
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		enc:    json.NewEncoder(stdin),
		dec:    json.NewDecoder(bufio.NewReader(stdout)),
	}
	logger.Printf("worker started: %v (pid %d)", command, cmd.Process.Pid)

	if _, err := p.call(ctx, Request{Type: TypeInit, RunId: runId, Manifest: manifest}); err != nil {
		p.kill()
		return nil, err
	}
	return p, nil
}

// call sends req and waits for its reply.
//
// If ctx is done before the reply, the worker is killed since the
// conversation cannot be resumed.
func (p *Process) call(ctx context.Context, req Request) (Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Reply{}, fmt.Errorf("%w: already closed", ErrWorker)
	}

	type result struct {
		reply Reply
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		if err := p.enc.Encode(req); err != nil {
			ch <- result{err: fmt.Errorf("%w: sending %s: %w", ErrWorker, req.Type, err)}
			return
		}
		reply := Reply{}
		if err := p.dec.Decode(&reply); err != nil {
			ch <- result{err: fmt.Errorf("%w: reading reply of %s: %w", ErrWorker, req.Type, err)}
			return
		}
		ch <- result{reply: reply}
	}()

	select {
	case <-ctx.Done():
		p.closed = true
		p.kill()
		<-ch
		return Reply{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return Reply{}, r.err
		}
		if r.reply.Error != "" {
			return Reply{}, fmt.Errorf("%w: %s: %s", ErrWorker, req.Type, r.reply.Error)
		}
		return r.reply, nil
	}
}

func (p *Process) loss(ctx context.Context, req Request) (float64, error) {
	reply, err := p.call(ctx, req)
	if err != nil {
		return 0, err
	}
	if reply.Loss == nil {
		return 0, fmt.Errorf("%w: %s: no loss in reply", ErrWorker, req.Type)
	}
	return *reply.Loss, nil
}

func (p *Process) Step(ctx context.Context, step trainer.TrainStep) (float64, error) {
	return p.loss(ctx, Request{Type: TypeTrain, TrainStep: &step})
}

func (p *Process) Evaluate(ctx context.Context, batch dataset.Batch) (float64, error) {
	return p.loss(ctx, Request{Type: TypeEval, Batch: &batch})
}

func (p *Process) Checkpoint(ctx context.Context, dir string, step int) error {
	_, err := p.call(ctx, Request{Type: TypeCheckpoint, Dir: dir, CheckpointStep: step})
	return err
}

func (p *Process) kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.stdin.Close()
	p.cmd.Wait()
}

// Close asks the worker to shut down and waits for it to exit.
// If it does not exit in ShutdownTimeout, it is killed.
func (p *Process) Close() error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if _, err := p.call(ctx, Request{Type: TypeShutdown}); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.closed {
			p.closed = true
			p.kill()
		}
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWorker, err)
		}
		return nil
	case <-ctx.Done():
		p.cmd.Process.Kill()
		<-done
		return fmt.Errorf("%w: worker did not exit in %s", ErrWorker, ShutdownTimeout)
	}
}
