package format

import (
	"strings"
	"testing"
)

func TestRenderMarkdown(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string // substrings expected in the HTML output
	}{
		{"plain text", "hello", []string{"<p>hello</p>"}},
		{"emphasis", "hello *world*", []string{"<em>world</em>"}},
		{"strong", "**loud**", []string{"<strong>loud</strong>"}},
		{"inline code", "run `make`", []string{"<code>make</code>"}},
		{"gfm strikethrough", "~~gone~~", []string{"<del>gone</del>"}},
		{"autolink", "see https://example.org", []string{`<a href="https://example.org"`}},
		{"hard wrap", "line one\nline two", []string{"<br"}},
		{"empty", "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RenderMarkdown(tc.in)
			if err != nil {
				t.Fatalf("RenderMarkdown(%q): %v", tc.in, err)
			}
			for _, sub := range tc.want {
				if !strings.Contains(got, sub) {
					t.Fatalf("RenderMarkdown(%q) = %q; missing %q", tc.in, got, sub)
				}
			}
		})
	}
}

func TestRenderMarkdown_HTMLIsEscapedByDefault(t *testing.T) {
	got, err := RenderMarkdown("<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if strings.Contains(got, "<script>") {
		t.Fatalf("raw HTML must not pass through: %q", got)
	}
}
