package htmlsanitize_test

import (
	"testing"

	"github.com/dalemusser/institutehub/internal/app/system/htmlsanitize"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "Springfield Institute", "Springfield Institute"},
		{"ampersand", "R&D Group", "R&D Group"},
		{"script removed", "Physics<script>alert('x')</script>", "Physics"},
		{"tags stripped", "<b>Bold</b> name", "Bold name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := htmlsanitize.PlainText(tt.input); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
