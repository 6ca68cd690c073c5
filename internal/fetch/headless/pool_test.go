package headless

import (
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
)

func TestNewPoolAppliesDefaults(t *testing.T) {
	p := NewPool(common.HeadlessConfig{}, 0, "", arbor.NewLogger())
	if p.maxInstances != 1 {
		t.Errorf("maxInstances = %d, want 1 (default for <= 0)", p.maxInstances)
	}
	if p.userAgent != "crawlservice/1.0" {
		t.Errorf("userAgent = %q, want default", p.userAgent)
	}
}

func TestPoolAcquireBeforeInitReturnsError(t *testing.T) {
	p := NewPool(common.HeadlessConfig{}, 2, "test-agent", arbor.NewLogger())
	_, err := p.Acquire()
	if err == nil {
		t.Error("Acquire() before Init() should return an error")
	}
}

func TestPoolShutdownBeforeInitIsSafe(t *testing.T) {
	p := NewPool(common.HeadlessConfig{}, 2, "test-agent", arbor.NewLogger())
	p.Shutdown()
}
