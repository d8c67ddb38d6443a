package tools

import (
	"context"
	"testing"
)

func TestURLFetchRejectsBadSchemes(t *testing.T) {
	f := NewURLFetch()
	for _, u := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"gopher://example.com",
	} {
		res := f.Execute(context.Background(), map[string]interface{}{"url": u})
		if !res.IsError || res.ErrorKind != KindParameterValidation {
			t.Errorf("scheme %q accepted: %+v", u, res)
		}
	}
}

func TestURLFetchRejectsLocalTargets(t *testing.T) {
	f := NewURLFetch()
	for _, u := range []string{
		"http://localhost:8080/admin",
		"http://printer.local/status",
		"http://127.0.0.1/",
	} {
		res := f.Execute(context.Background(), map[string]interface{}{"url": u})
		if !res.IsError {
			t.Errorf("local target %q accepted", u)
		}
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"tags", "<p>Hello <b>world</b></p>", "Hello world"},
		{"script dropped", "<script>alert(1)</script>before<style>p{}</style>after", "before after"},
		{"entities", "a &amp; b &lt;c&gt; &quot;d&quot;", `a & b <c> "d"`},
		{"whitespace collapsed", "line1\n\n\n  line2\t\tline3", "line1 line2 line3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripHTML(tt.in); got != tt.want {
				t.Errorf("stripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCheckPrivateHost(t *testing.T) {
	if err := checkPrivateHost("localhost:9000"); err == nil {
		t.Error("localhost with port accepted")
	}
	if err := checkPrivateHost("nas.local"); err == nil {
		t.Error(".local accepted")
	}
	// Unresolvable hosts pass here; the fetch itself reports the clearer error.
	if err := checkPrivateHost("definitely-not-a-real-host.invalid"); err != nil {
		t.Errorf("unresolvable host rejected early: %v", err)
	}
}
