package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		input Hash
		want  bool
	}{
		{
			name:  "Valid Hash (40 chars)",
			input: Hash(strings.Repeat("a", 40)),
			want:  true,
		},
		{
			name:  "Valid mixed digits",
			input: Hash("da39a3ee5e6b4b0d3255bfef95601890afd80709"),
			want:  true,
		},
		{
			name:  "Too Short",
			input: Hash(strings.Repeat("a", 39)),
			want:  false,
		},
		{
			name:  "Empty",
			input: Hash(""),
			want:  false,
		},
		{
			name:  "Too Long",
			input: Hash(strings.Repeat("a", 41)),
			want:  false,
		},
		{
			name:  "Uppercase",
			input: Hash(strings.Repeat("A", 40)),
			want:  false,
		},
		{
			name:  "Non hex",
			input: Hash(strings.Repeat("z", 40)),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.input.IsValid())
		})
	}
}

func TestHash_String(t *testing.T) {
	s := "aabbcc"
	h := Hash(s)
	assert.Equal(t, s, h.String())
	assert.False(t, h.IsZero())

	var zero Hash
	assert.True(t, zero.IsZero())
}

func TestIsContentName(t *testing.T) {
	assert.True(t, IsContentName(strings.Repeat("b", 40)))
	assert.False(t, IsContentName(strings.Repeat("b", 39)))
	assert.False(t, IsContentName("config.db"))
	assert.False(t, IsContentName(strings.Repeat("x", 40)))
}

func TestSystemID_Normalize(t *testing.T) {
	assert.Equal(t, SystemID("moodle"), SystemID("  moodle\n").Normalize())
}
