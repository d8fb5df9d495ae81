package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStandard_SameComponentsSameID(t *testing.T) {
	ts := time.Date(2025, 1, 15, 10, 30, 0, 123_000_000, time.UTC)

	id1 := Standard("org-pangolabs", "semgrep", "scan.completed", "asset-1", ts)
	id2 := Standard("org-pangolabs", "semgrep", "scan.completed", "asset-1", ts)

	assert.Equal(t, id1, id2)
	assert.Regexp(t, `^evt_[0-9a-f]{32}$`, id1)
}

func TestStandard_SameFloorWindowCollides(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	t1 := base.Add(2 * time.Millisecond)
	t2 := base.Add(7 * time.Millisecond)

	id1 := Standard("org-a", "tool", "type", "asset", t1)
	id2 := Standard("org-a", "tool", "type", "asset", t2)

	assert.Equal(t, id1, id2, "both fall in the same 10ms floor window")
}

func TestStandard_DifferentFloorWindowDiffers(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	t1 := base.Add(2 * time.Millisecond)
	t2 := base.Add(12 * time.Millisecond)

	id1 := Standard("org-a", "tool", "type", "asset", t1)
	id2 := Standard("org-a", "tool", "type", "asset", t2)

	assert.NotEqual(t, id1, id2)
}

func TestHighFrequency_SequenceDisambiguatesSameWindow(t *testing.T) {
	ts := time.Date(2025, 1, 15, 10, 30, 0, 500_000, time.UTC)

	id1 := HighFrequency("instance-1", "firewall.blocked", "asset-1", ts, 0)
	id2 := HighFrequency("instance-1", "firewall.blocked", "asset-1", ts, 1)

	assert.NotEqual(t, id1, id2)
}

func TestSequencer_MonotonicFromZero(t *testing.T) {
	var seq Sequencer

	assert.Equal(t, uint64(0), seq.Next())
	assert.Equal(t, uint64(1), seq.Next())
	assert.Equal(t, uint64(2), seq.Next())
}
