package workflow

import (
	"sync"
	"testing"

	"github.com/leilaotrack/auctions_backend/models"
)

func TestStats_ConcurrentSnapshots(t *testing.T) {
	p := &UnitPipeline{Type: models.PipelineTypeIngest}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			p.updateStats(func(s *RunStats) { s.Processed++ })
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			p.updateStats(func(s *RunStats) { s.Failed++ })
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := p.Stats()
			if snap.Processed < 0 || snap.Failed < 0 {
				t.Error("negative counter in snapshot")
				return
			}
		}
	}()
	wg.Wait()

	snap := p.Stats()
	if snap.Processed != 1000 || snap.Failed != 1000 {
		t.Fatalf("expected 1000/1000, got %d/%d", snap.Processed, snap.Failed)
	}
}
