package schema

import "testing"

func TestNormalizeLanguage(t *testing.T) {
	cases := []struct {
		in   Language
		want Language
	}{
		{"", DefaultLanguage},
		{"  Python ", "python"},
		{"CPP", "cpp"},
		{"javascript", "javascript"},
	}
	for _, tc := range cases {
		if got := NormalizeLanguage(tc.in); got != tc.want {
			t.Fatalf("NormalizeLanguage(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeCursorSwapsReversedSelection(t *testing.T) {
	got := NormalizeCursor(CursorState{Position: 3, SelectionStart: 5, SelectionEnd: 2})
	if got.SelectionStart != 2 || got.SelectionEnd != 5 {
		t.Fatalf("selection not swapped: %+v", got)
	}
}

func TestNormalizeCursorClampsNegativeOffsets(t *testing.T) {
	got := NormalizeCursor(CursorState{Position: -1, SelectionStart: -4, SelectionEnd: -2})
	if got.Position != 0 || got.SelectionStart != 0 || got.SelectionEnd != 0 {
		t.Fatalf("negative offsets not clamped: %+v", got)
	}
}

func TestNormalizeCursorPassesThroughStaleOffsets(t *testing.T) {
	in := CursorState{Position: 900, SelectionStart: 100, SelectionEnd: 900}
	if got := NormalizeCursor(in); got != in {
		t.Fatalf("stale offsets changed: %+v", got)
	}
}
