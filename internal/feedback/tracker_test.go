package feedback

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_RecordRejection(t *testing.T) {
	tr := NewTracker(3)

	assert.Equal(t, 1, tr.RecordRejection("h1", "BANK"))
	assert.Equal(t, 2, tr.RecordRejection("h1", "bank"))
	assert.False(t, tr.NeedsAnnotation("h1", "Bank"))
	assert.Equal(t, 3, tr.RecordRejection("h1", " BANK "))
	assert.True(t, tr.NeedsAnnotation("h1", "BANK"))

	// Other pairs are independent.
	assert.Equal(t, 0, tr.Count("h1", "OTHER"))
	assert.Equal(t, 0, tr.Count("h2", "BANK"))
}

func TestTracker_OnLearnedResets(t *testing.T) {
	tr := NewTracker(2)
	tr.RecordRejection("h1", "BANK")
	tr.RecordRejection("h1", "BANK")
	assert.True(t, tr.NeedsAnnotation("h1", "BANK"))

	tr.OnLearned("h1", "bank")
	assert.Equal(t, 0, tr.Count("h1", "BANK"))
	assert.False(t, tr.NeedsAnnotation("h1", "BANK"))
}

func TestNewTracker_DefaultThreshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewTracker(0).Threshold())
	assert.Equal(t, 5, NewTracker(5).Threshold())
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker(3)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordRejection("h", "s")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Count("h", "s"))
}

func TestTracker_SnapshotRestore(t *testing.T) {
	tr := NewTracker(3)
	tr.RecordRejection("h2", "Bank")
	tr.RecordRejection("h1", "BANK")
	tr.RecordRejection("h1", "bank")

	snap := tr.Snapshot()
	assert.Equal(t, []Count{
		{TemplateHash: "h1", Sender: "bank", Rejections: 2},
		{TemplateHash: "h2", Sender: "bank", Rejections: 1},
	}, snap)

	restored := NewTracker(3)
	restored.RecordRejection("stale", "")
	restored.Restore(append(snap, Count{TemplateHash: "h3", Rejections: 0}, Count{Rejections: 4}))
	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, 0, restored.Count("stale", ""))
	assert.Equal(t, 3, restored.RecordRejection("h1", "BANK"))
}
