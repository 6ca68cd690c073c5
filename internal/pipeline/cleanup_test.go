package pipeline

import (
	"strings"
	"testing"
)

func TestCleanContentStripsBoilerplateLines(t *testing.T) {
	input := "Real heading\n\nShare this article\nSubscribe to our newsletter\nActual body content here."
	got := CleanContent(input)
	if strings.Contains(got, "Share this article") {
		t.Errorf("CleanContent() did not strip boilerplate line: %q", got)
	}
	if !strings.Contains(got, "Actual body content here.") {
		t.Errorf("CleanContent() dropped real content: %q", got)
	}
}

func TestCleanContentCollapsesDuplicateLines(t *testing.T) {
	input := "This is a fairly long duplicated line of content.\nThis is a fairly long duplicated line of content.\nDifferent line."
	got := CleanContent(input)
	count := strings.Count(got, "This is a fairly long duplicated line of content.")
	if count != 1 {
		t.Errorf("CleanContent() kept %d copies of the duplicate line, want 1", count)
	}
}

func TestCleanContentTrimsLeadingTrailingBlankLines(t *testing.T) {
	input := "\n\n  \nReal content.\n\n  \n"
	got := CleanContent(input)
	if got != "Real content." {
		t.Errorf("CleanContent() = %q, want %q", got, "Real content.")
	}
}

func TestCleanContentEmptyInput(t *testing.T) {
	if got := CleanContent(""); got != "" {
		t.Errorf("CleanContent(\"\") = %q, want empty", got)
	}
}
