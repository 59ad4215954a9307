package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// JobProcessor defines the interface for processing jobs
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker polls a JobProcessor at a fixed interval.
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		name:         "worker",
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins the worker's polling loop and blocks until the context is
// cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("jobs: %s started, poll interval %v", w.name, w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("jobs: %s stopped: context cancelled", w.name)
			return
		case <-w.stopChan:
			log.Printf("jobs: %s stopped: stop signal received", w.name)
			return
		case <-ticker.C:
			if err := w.processor.ProcessJobs(ctx); err != nil {
				log.Printf("jobs: %s: %v", w.name, err)
			}
		}
	}
}

// Stop signals the worker to exit and waits for its loop to return.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

// Pool runs a fixed number of workers against one shared processor. Builds
// for different issues can then run in parallel while the queue's per-issue
// dedupe keeps any single issue on one build at a time.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates size workers sharing the processor. Size is clamped to at
// least one.
func NewPool(size int, processor JobProcessor, pollInterval time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{}
	for i := 0; i < size; i++ {
		w := NewWorker(processor, pollInterval)
		w.name = fmt.Sprintf("build worker %d", i+1)
		p.workers = append(p.workers, w)
	}
	return p
}

// Start launches every worker in its own goroutine and returns immediately.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Start(ctx)
		}()
	}
}

// Stop stops every worker and waits for their goroutines to exit.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
}
