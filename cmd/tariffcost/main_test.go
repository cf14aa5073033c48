package main

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "AGL", 24, "AGL"},
		{"exact", "Origin Energy", 13, "Origin Energy"},
		{"ascii cut", "Origin Energy Go Variable", 12, "Origin En..."},
		{"multi-byte cut", "Énergie Électrique Verte", 10, "Énergie..."},
		{"multi-byte fits", "Électricité", 11, "Électricité"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
