package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/shuvam773/kanban/domain"
)

// gatedExporter blocks every export until release is closed.
type gatedExporter struct {
	release chan struct{}
	started chan struct{}
	count   atomic.Int32
	err     error
}

func (g *gatedExporter) Export(ctx context.Context, _ []byte) error {
	g.started <- struct{}{}
	<-g.release
	g.count.Add(1)
	return g.err
}

func newGated() *gatedExporter {
	return &gatedExporter{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func TestExportPoolWaitsForCapacity(t *testing.T) {
	logger, _ := test.NewNullLogger()
	exp := newGated()
	p := newExportPool(exp, 1, 1, 200*time.Millisecond, logger)

	if !p.submit(exportJob{data: []byte("1")}) {
		t.Fatal("first job rejected")
	}
	<-exp.started // worker busy
	if !p.submit(exportJob{data: []byte("2")}) {
		t.Fatal("buffered job rejected")
	}

	done := make(chan bool, 1)
	go func() { done <- p.submit(exportJob{data: []byte("3")}) }()
	select {
	case <-done:
		t.Fatal("submit returned before capacity was freed")
	case <-time.After(20 * time.Millisecond):
	}

	close(exp.release)
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected job accepted once capacity freed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handoff")
	}
	p.close()
	if n := exp.count.Load(); n != 3 {
		t.Fatalf("expected 3 exports, got %d", n)
	}
}

func TestExportPoolDropsWhenFull(t *testing.T) {
	logger, _ := test.NewNullLogger()
	exp := newGated()
	p := newExportPool(exp, 1, 0, 10*time.Millisecond, logger)

	if !p.submit(exportJob{}) {
		t.Fatal("first job rejected")
	}
	<-exp.started
	start := time.Now()
	if p.submit(exportJob{}) {
		t.Fatal("expected drop while the only worker is busy")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("expected submit to wait for the handoff timeout")
	}
	close(exp.release)
	p.close()
}

func TestExportPoolRejectsAfterClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	exp := newGated()
	close(exp.release)
	p := newExportPool(exp, 2, 4, 0, logger)
	p.close()
	p.close()
	if p.submit(exportJob{}) {
		t.Fatal("closed pool accepted a job")
	}
}

func TestGatewayLogsExportFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	exp := newGated()
	exp.err = errors.New("queue unavailable")
	close(exp.release)
	g := NewGateway(NewHub(8, logger), logger, WithExporter(exp), WithExportPool(1, 4, 0))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Publish(context.Background(), domain.NewSectionAdded("b1", domain.Section{ID: "s1"}))
		}()
	}
	wg.Wait()
	g.Close()

	if n := exp.count.Load(); n != 3 {
		t.Fatalf("expected 3 export attempts, got %d", n)
	}
	failures := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "export event" {
			failures++
		}
	}
	if failures != 3 {
		t.Fatalf("expected 3 logged failures, got %d", failures)
	}
}
