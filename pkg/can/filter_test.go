package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func frame(id uint32, kind IDKind) *Frame {
	return &Frame{ID: id, Kind: kind}
}

func TestFilterMatches(t *testing.T) {
	f := Filter{Pattern: 0x7E8, Mask: 0x7F8, Kind: Standard11, Action: Accept}

	tests := []struct {
		name  string
		frame *Frame
		want  bool
	}{
		{name: "exact match", frame: frame(0x7E8, Standard11), want: true},
		{name: "within mask", frame: frame(0x7EF, Standard11), want: true},
		{name: "outside mask", frame: frame(0x7F0, Standard11), want: false},
		{name: "kind mismatch", frame: frame(0x7E8, Extended29), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Matches(tt.frame))
		})
	}
}

func TestFilterListEmptyAcceptsEverything(t *testing.T) {
	var l filterList
	assert.True(t, l.accepts(frame(0x000, Standard11)))
	assert.True(t, l.accepts(frame(0x1FFFFFFF, Extended29)))
}

func TestFilterListFirstMatchDecides(t *testing.T) {
	var l filterList
	l.add(Filter{Pattern: 0x100, Mask: 0x700, Kind: Standard11, Action: Drop})
	l.add(Filter{Pattern: 0x100, Mask: 0x7FF, Kind: Standard11, Action: Accept})

	// The drop filter is evaluated first even though the accept filter
	// also matches.
	assert.False(t, l.accepts(frame(0x100, Standard11)))
	// No filter matches: the default accepts.
	assert.True(t, l.accepts(frame(0x7E8, Standard11)))
}

func TestFilterListSingleAcceptLaw(t *testing.T) {
	// A single accept filter still accepts non-matching frames through
	// the default; what it pins down is the match predicate itself.
	pattern, mask := uint32(0x7E8), uint32(0x7F8)
	var l filterList
	l.add(Filter{Pattern: pattern, Mask: mask, Kind: Standard11, Action: Accept})

	for id := uint32(0); id <= 0x7FF; id++ {
		f := frame(id, Standard11)
		matched := id&mask == pattern&mask
		assert.Equal(t, matched, (Filter{Pattern: pattern, Mask: mask, Kind: Standard11, Action: Accept}).Matches(f), "id 0x%03X", id)
		assert.True(t, l.accepts(f))
	}
	// Extended frames never match a standard filter.
	assert.False(t, (Filter{Pattern: pattern, Mask: mask, Kind: Standard11, Action: Accept}).Matches(frame(pattern, Extended29)))
}

func TestFilterListRemoveAndClear(t *testing.T) {
	var l filterList
	id := l.add(Filter{Pattern: 0x123, Mask: 0x7FF, Kind: Standard11, Action: Drop})
	assert.False(t, l.accepts(frame(0x123, Standard11)))

	assert.True(t, l.remove(id))
	assert.False(t, l.remove(id))
	assert.True(t, l.accepts(frame(0x123, Standard11)))

	l.add(Filter{Pattern: 0x200, Mask: 0x7FF, Kind: Standard11, Action: Drop})
	l.clear()
	assert.True(t, l.accepts(frame(0x200, Standard11)))
}
