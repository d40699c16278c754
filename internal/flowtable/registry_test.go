package flowtable

import (
	"Go2NetStats/internal/model"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := model.FlowKey{Cookie: 1}
	b := model.FlowKey{Cookie: 2}
	c := model.FlowKey{Cookie: 3}

	assert.Empty(t, slices.Collect(r.Flows(12)))

	r.Replace(12, []model.FlowKey{a, b, c})
	assert.Equal(t, []model.FlowKey{a, b, c}, slices.Collect(r.Flows(12)))
	assert.Equal(t, 0, r.Len(13))

	r.Remove(12, a)
	assert.Equal(t, []model.FlowKey{b, c}, slices.Collect(r.Flows(12)))
	assert.Equal(t, 2, r.Len(12))

	r.Replace(12, nil)
	assert.Equal(t, 0, r.Len(12))
}

func TestRegistry_UntrackedFlowsStayOut(t *testing.T) {
	r := NewRegistry()
	a := model.FlowKey{Cookie: 1}
	b := model.FlowKey{Cookie: 2}

	r.Replace(12, []model.FlowKey{a, b})
	r.Untrack(12, b)
	r.Untrack(12, b)
	assert.Equal(t, []model.FlowKey{a}, slices.Collect(r.Flows(12)))

	// Re-announced: still skipped.
	r.Replace(12, []model.FlowKey{a, b})
	assert.Equal(t, []model.FlowKey{a}, slices.Collect(r.Flows(12)))

	// Gone from one announcement, the mark is dropped and b may return.
	r.Replace(12, []model.FlowKey{a})
	r.Replace(12, []model.FlowKey{a, b})
	assert.Equal(t, []model.FlowKey{a, b}, slices.Collect(r.Flows(12)))

	// Marks are per table.
	r.Untrack(13, a)
	r.Replace(12, []model.FlowKey{a})
	assert.Equal(t, []model.FlowKey{a}, slices.Collect(r.Flows(12)))
}

func TestRegistry_EarlyBreak(t *testing.T) {
	r := NewRegistry()
	r.Replace(20, []model.FlowKey{{Cookie: 1}, {Cookie: 2}, {Cookie: 3}})
	n := 0
	for range r.Flows(20) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}
