package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil stays nil", input: nil, want: nil},
		{name: "trims and drops blanks", input: []string{" a ", "", "   ", "b"}, want: []string{"a", "b"}},
		{name: "first occurrence wins", input: []string{"b", "a", "b ", "a"}, want: []string{"b", "a"}},
		{name: "case sensitive", input: []string{"Breach", "breach"}, want: []string{"Breach", "breach"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeFold(t *testing.T) {
	got := DedupeFold([]string{"Ann Lee", " ANN LEE", "ann lee", "Bo Chen"})
	assert.Equal(t, []string{"Ann Lee", "Bo Chen"}, got)
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{}, SortedUnique(nil))
	assert.Equal(t, []string{"emails", "passwords"}, SortedUnique([]string{"passwords", "emails", " passwords"}))
}
