package routepat

import (
	"reflect"
	"testing"
)

func TestCompileLiteral(t *testing.T) {
	p, err := Compile("/docs/intro")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	tests := []struct {
		path      string
		wantMatch bool
	}{
		{"/docs/intro", true},
		{"/docs/intro/", true},
		{"/docs", false},
		{"/docs/intro/extra", false},
		{"/docs/introx", false},
		{"/other", false},
	}

	for _, tt := range tests {
		_, ok := p.Match(tt.path)
		if ok != tt.wantMatch {
			t.Errorf("Match(%q) = %v, want %v", tt.path, ok, tt.wantMatch)
		}
	}

	if len(p.Names) != 0 {
		t.Errorf("Names = %v, want none", p.Names)
	}
}

func TestCompileDynamic(t *testing.T) {
	p := MustCompile("/blog/[slug]")

	params, ok := p.Match("/blog/hello-world")
	if !ok {
		t.Fatal("expected match")
	}
	if params["slug"] != "hello-world" {
		t.Errorf("slug = %q, want %q", params["slug"], "hello-world")
	}

	if _, ok := p.Match("/blog"); ok {
		t.Error("matched /blog without a slug")
	}
	if _, ok := p.Match("/blog/a/b"); ok {
		t.Error("matched nested path against single segment")
	}
}

func TestCompileDecodesBeforeCompare(t *testing.T) {
	p := MustCompile("/blog/[slug]")

	params, ok := p.Match("/blog/hello%20world")
	if !ok {
		t.Fatal("expected match")
	}
	if params["slug"] != "hello world" {
		t.Errorf("slug = %q, want %q", params["slug"], "hello world")
	}
}

func TestCompileRest(t *testing.T) {
	p := MustCompile("/files/[...path]")

	tests := []struct {
		path     string
		wantPath string
	}{
		{"/files", ""},
		{"/files/", ""},
		{"/files/a", "a"},
		{"/files/a/b/c", "a/b/c"},
	}

	for _, tt := range tests {
		params, ok := p.Match(tt.path)
		if !ok {
			t.Errorf("Match(%q) = no match", tt.path)
			continue
		}
		if params["path"] != tt.wantPath {
			t.Errorf("Match(%q) path = %q, want %q", tt.path, params["path"], tt.wantPath)
		}
	}

	if _, ok := p.Match("/filesx"); ok {
		t.Error("matched /filesx against /files prefix")
	}
}

func TestCompileOptional(t *testing.T) {
	p := MustCompile("/[[lang]]/home")

	params, ok := p.Match("/home")
	if !ok {
		t.Fatal("expected match without optional segment")
	}
	if params["lang"] != "" {
		t.Errorf("lang = %q, want empty", params["lang"])
	}

	params, ok = p.Match("/en/home")
	if !ok {
		t.Fatal("expected match with optional segment")
	}
	if params["lang"] != "en" {
		t.Errorf("lang = %q, want %q", params["lang"], "en")
	}

	// Trailing slash presence never changes the outcome.
	if _, ok := p.Match("/en/home/"); !ok {
		t.Error("trailing slash broke the match")
	}
}

func TestCompileMatcherTypes(t *testing.T) {
	p := MustCompile("/users/[id=integer]")

	if p.Types["id"] != "integer" {
		t.Errorf("Types[id] = %q, want %q", p.Types["id"], "integer")
	}
	if !reflect.DeepEqual(p.Names, []string{"id"}) {
		t.Errorf("Names = %v, want [id]", p.Names)
	}

	matchers := map[string]Matcher{
		"integer": func(v string) bool {
			for _, c := range v {
				if c < '0' || c > '9' {
					return false
				}
			}
			return v != ""
		},
	}

	params, ok := p.Match("/users/42")
	if !ok {
		t.Fatal("expected match")
	}
	if !p.Satisfies(params, matchers) {
		t.Error("integer matcher rejected 42")
	}

	params, _ = p.Match("/users/abc")
	if p.Satisfies(params, matchers) {
		t.Error("integer matcher accepted abc")
	}
}

func TestSatisfiesUnknownMatcherFailsClosed(t *testing.T) {
	p := MustCompile("/users/[id=missing]")
	params, ok := p.Match("/users/42")
	if !ok {
		t.Fatal("expected match")
	}
	if p.Satisfies(params, nil) {
		t.Error("unknown matcher should fail closed")
	}
}

func TestCompileRoot(t *testing.T) {
	p := MustCompile("/")
	if _, ok := p.Match("/"); !ok {
		t.Error("root pattern did not match /")
	}
	if _, ok := p.Match("/x"); ok {
		t.Error("root pattern matched /x")
	}
}

func TestCompileDeterministic(t *testing.T) {
	a := MustCompile("/a/[b]/c/[...d]")
	b := MustCompile("/a/[b]/c/[...d]")

	if a.String() != b.String() {
		t.Errorf("patterns differ: %q vs %q", a.String(), b.String())
	}
	if !reflect.DeepEqual(a.Names, b.Names) {
		t.Errorf("names differ: %v vs %v", a.Names, b.Names)
	}
}

func TestCompileRejectsMixedSegment(t *testing.T) {
	if _, err := Compile("/a/pre[x]post"); err == nil {
		t.Error("expected error for mixed literal/bracket segment")
	}
}
