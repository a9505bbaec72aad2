package docsearch

import "testing"

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  Revenue   grew \n\n\n in Q4 ", "Revenue grew\n\nin Q4"},
		{"tags", "<p>First</p><p>Second <b>bold</b></p>", "First\nSecond bold"},
		{"entities", "R&amp;D spend", "R&D spend"},
		{"script dropped", "keep<script>var x = 1;</script> this", "keep this"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanText(tt.in); got != tt.want {
				t.Errorf("cleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExcerpt(t *testing.T) {
	got, cut := excerpt("héllo world", 5)
	if got != "héllo" || !cut {
		t.Errorf("excerpt = %q, %v", got, cut)
	}
	got, cut = excerpt("short", 10)
	if got != "short" || cut {
		t.Errorf("excerpt = %q, %v", got, cut)
	}
}
