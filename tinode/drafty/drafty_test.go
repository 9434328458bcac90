package drafty

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func richDoc() map[string]any {
	return map[string]any{
		"txt": "call me maybe",
		"fmt": []any{map[string]any{"at": float64(0), "len": float64(4), "tp": "ST"}},
	}
}

func TestIsPlainText(t *testing.T) {
	if !IsPlainText("just a string") {
		t.Error("bare string not recognized as plain text")
	}
	if !IsPlainText(map[string]any{"txt": "no formatting"}) {
		t.Error("unformatted document not recognized as plain text")
	}
	if IsPlainText(richDoc()) {
		t.Error("formatted document reported as plain text")
	}
	if IsPlainText(nil) {
		t.Error("nil content reported as plain text")
	}
	if IsPlainText(42) {
		t.Error("unrecognized content reported as plain text")
	}
}

func TestToPlainText(t *testing.T) {
	got, err := ToPlainText(richDoc())
	if err != nil {
		t.Fatal(err)
	}
	if got != "call me maybe" {
		t.Errorf("ToPlainText = %q", got)
	}

	if _, err := ToPlainText(struct{}{}); err == nil {
		t.Error("no error for unrecognized content")
	}
}

func TestPreview(t *testing.T) {
	cases := []struct {
		in     string
		length int
		want   string
	}{
		{"hello there", 5, "hello"},
		{"short", 100, "short"},
		// Each emoji with modifiers is one grapheme cluster; truncation must
		// not split it into broken code points.
		{"\U0001F44D\U0001F3FD\U0001F44D\U0001F3FD\U0001F44D\U0001F3FD", 2, "\U0001F44D\U0001F3FD\U0001F44D\U0001F3FD"},
		{"cafés", 4, "café"},
	}
	for _, tc := range cases {
		got, err := Preview(tc.in, tc.length)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("Preview(%q, %d) = %q, want %q", tc.in, tc.length, got, tc.want)
		}
	}
}

func TestEntityURLs(t *testing.T) {
	doc := map[string]any{
		"txt": " ",
		"fmt": []any{map[string]any{"at": float64(-1), "key": float64(0)}},
		"ent": []any{
			map[string]any{"tp": "EX", "data": map[string]any{"ref": "/v0/file/s/doc.pdf", "mime": "application/pdf"}},
			map[string]any{"tp": "IM", "data": map[string]any{"ref": "/v0/file/s/pic.jpg"}},
			// Inline image carries no reference.
			map[string]any{"tp": "IM", "data": map[string]any{"val": "aGVsbG8"}},
			map[string]any{"tp": "LN", "data": map[string]any{"url": "https://example.com"}},
		},
	}

	got := EntityURLs(doc)
	want := []string{"/v0/file/s/doc.pdf", "/v0/file/s/pic.jpg"}
	if !cmp.Equal(got, want) {
		t.Errorf("EntityURLs mismatch: %s", cmp.Diff(want, got))
	}

	if EntityURLs("plain") != nil {
		t.Error("EntityURLs of plain text is not empty")
	}
}
