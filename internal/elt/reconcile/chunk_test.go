package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{name: "empty", items: nil, size: 2, want: nil},
		{name: "exact", items: []int{1, 2, 3, 4}, size: 2, want: [][]int{{1, 2}, {3, 4}}},
		{name: "remainder", items: []int{1, 2, 3}, size: 2, want: [][]int{{1, 2}, {3}}},
		{name: "larger than input", items: []int{1, 2}, size: 5, want: [][]int{{1, 2}}},
		{name: "non-positive size", items: []int{1, 2, 3}, size: 0, want: [][]int{{1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunk(tt.items, tt.size))
		})
	}
}

func TestChunk_AppendDoesNotBleed(t *testing.T) {
	items := []int{1, 2, 3, 4}
	parts := chunk(items, 2)
	_ = append(parts[0], 99)
	assert.Equal(t, []int{1, 2, 3, 4}, items)
}
