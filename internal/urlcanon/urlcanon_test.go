package urlcanon

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/path", "https://example.com/path"},
		{"strips default https port", "https://example.com:443/path", "https://example.com/path"},
		{"strips default http port", "http://example.com:80/path", "http://example.com/path"},
		{"keeps non-default port", "https://example.com:8443/path", "https://example.com:8443/path"},
		{"drops fragment", "https://example.com/path#section", "https://example.com/path"},
		{"collapses repeated slashes", "https://example.com/a//b", "https://example.com/a/b"},
		{"maps index.html to directory", "https://example.com/docs/index.html", "https://example.com/docs"},
		{"maps index.htm to directory", "https://example.com/docs/index.htm", "https://example.com/docs"},
		{"strips non-root trailing slash", "https://example.com/docs/", "https://example.com/docs"},
		{"keeps root slash", "https://example.com/", "https://example.com/"},
		{"strips utm tracking params", "https://example.com/p?utm_source=x&id=1", "https://example.com/p?id=1"},
		{"strips fbclid", "https://example.com/p?fbclid=abc", "https://example.com/p"},
		{"empty path becomes root", "https://example.com", "https://example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.input)
			if err != nil {
				t.Fatalf("Canonicalize(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM:443/docs/index.html?utm_source=x&id=1#frag",
		"http://example.com/a//b//c/",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		if err != nil {
			t.Fatalf("Canonicalize(%q) error = %v", in, err)
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("Canonicalize(%q) error = %v", once, err)
		}
		if once != twice {
			t.Errorf("Canonicalize not idempotent: first=%q second=%q", once, twice)
		}
	}
}

func TestHasExcludedExtension(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/image.png", true},
		{"https://example.com/doc.pdf", true},
		{"https://example.com/style.css", true},
		{"https://example.com/page", false},
		{"https://example.com/page.html", false},
	}
	for _, tt := range tests {
		if got := HasExcludedExtension(tt.url); got != tt.want {
			t.Errorf("HasExcludedExtension(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestMatchesDenyPattern(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/login", true},
		{"https://example.com/search?q=x", true},
		{"https://facebook.com/sharer/sharer.php", true},
		{"https://example.com/docs/guide", false},
	}
	for _, tt := range tests {
		if got := MatchesDenyPattern(tt.url); got != tt.want {
			t.Errorf("MatchesDenyPattern(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestMatchesIgnorePrefix(t *testing.T) {
	prefixes := []string{"/blog", "docs/internal"}
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/blog/post-1", true},
		{"https://example.com/docs/internal/x", true},
		{"https://example.com/docs/public", false},
	}
	for _, tt := range tests {
		if got := MatchesIgnorePrefix(tt.url, prefixes); got != tt.want {
			t.Errorf("MatchesIgnorePrefix(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestInScope(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		host   string
		ignore []string
		want   bool
	}{
		{"same host plain page", "https://example.com/docs/guide", "example.com", nil, true},
		{"different host", "https://other.com/docs/guide", "example.com", nil, false},
		{"excluded extension", "https://example.com/image.png", "example.com", nil, false},
		{"deny pattern login", "https://example.com/login", "example.com", nil, false},
		{"ignore prefix", "https://example.com/blog/x", "example.com", []string{"/blog"}, false},
		{"ftp scheme rejected", "ftp://example.com/file", "example.com", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InScope(tt.url, tt.host, tt.ignore); got != tt.want {
				t.Errorf("InScope(%q, %q) = %v, want %v", tt.url, tt.host, got, tt.want)
			}
		})
	}
}
