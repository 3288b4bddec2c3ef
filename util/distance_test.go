package util

import (
	"testing"

	"github.com/antzucaro/matchr"
)

func TestHamming(t *testing.T) {
	tests := []struct {
		s1   string
		s2   string
		want int
	}{
		{"", "", 0},
		{"AAAAA", "AAAAA", 0},
		{"AAAAA", "AAAAT", 1},
		{"AAAAA", "TAAAT", 2},
		{"ACGTACGT", "TGCATGCA", 8},
		// Length mismatches only compare the overlapping prefix.
		{"AAAAA", "AAAA", 0},
		{"AAAAA", "", 0},
		{"AAAAT", "AAAC", 1},
		{"GATTACA", "GATTACATTT", 0},
	}

	for _, test := range tests {
		if got := Hamming([]byte(test.s1), []byte(test.s2)); got != test.want {
			t.Errorf("Hamming(%q, %q) = %d, want %d", test.s1, test.s2, got, test.want)
		}
		// Symmetry holds regardless of argument order.
		if got := Hamming([]byte(test.s2), []byte(test.s1)); got != test.want {
			t.Errorf("Hamming(%q, %q) = %d, want %d", test.s2, test.s1, got, test.want)
		}
	}
}

// TestHammingMatchr cross-checks the equal-length case against an independent
// implementation.
func TestHammingMatchr(t *testing.T) {
	pairs := [][2]string{
		{"AAAAAAAA", "AAAAAAAA"},
		{"AAAAAAAA", "AAAAAAAT"},
		{"ACGTACGT", "ACGAACGA"},
		{"TTTTTTTT", "AAAAAAAA"},
		{"GATTACAT", "GATCACAT"},
	}
	for _, pair := range pairs {
		want, err := matchr.Hamming(pair[0], pair[1])
		if err != nil {
			t.Fatalf("matchr.Hamming(%q, %q): %v", pair[0], pair[1], err)
		}
		if got := Hamming([]byte(pair[0]), []byte(pair[1])); got != want {
			t.Errorf("Hamming(%q, %q) = %d, want %d", pair[0], pair[1], got, want)
		}
	}
}
