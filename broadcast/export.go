package broadcast

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultExportWorkers = 4
	defaultExportBuffer  = 1024
	defaultExportHandoff = 15 * time.Millisecond
)

type exportJob struct {
	data   []byte
	fields log.Fields
}

// exportPool hands encoded events to a fixed set of workers that push them
// to an Exporter. A full buffer drops the event after a short handoff wait;
// the board itself never depends on the export.
type exportPool struct {
	sink    Exporter
	log     *log.Logger
	jobs    chan exportJob
	handoff time.Duration
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newExportPool(sink Exporter, workers, buffer int, handoff time.Duration, logger *log.Logger) *exportPool {
	if workers <= 0 {
		workers = defaultExportWorkers
	}
	if buffer < 0 {
		buffer = 0
	}
	p := &exportPool{
		sink:    sink,
		log:     logger,
		jobs:    make(chan exportJob, buffer),
		handoff: handoff,
		timeout: exportTimeout,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event export started, workers: %d, buffer: %d, handoff: %v", workers, buffer, handoff)
	return p
}

func (p *exportPool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.sink.Export(ctx, j.data)
		cancel()
		if err != nil {
			p.log.WithError(err).WithFields(j.fields).WithField("worker", id).Error("export event")
		}
	}
}

// submit reports whether the job was accepted.
func (p *exportPool) submit(j exportJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- j:
		return true
	default:
	}
	if p.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(p.handoff)
	defer timer.Stop()
	select {
	case p.jobs <- j:
		return true
	case <-timer.C:
		return false
	}
}

// close stops accepting jobs and waits for queued ones to finish.
func (p *exportPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
