package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const staticPage = `<html><head><title>Docs</title></head><body>
<h1>Getting started</h1>
<p>This guide walks through installing the toolchain, configuring your first
project, and running the development server. Each step links to a deeper
reference page with the full set of options and their defaults.</p>
<p>If anything here is unclear, the troubleshooting section at the end covers
the most common failure modes we have seen in the field.</p>
</body></html>`

const spaShell = `<html><head><title>App</title>
<script src="/static/bundle.js"></script></head>
<body><noscript>You need to enable JavaScript to run this app.</noscript>
<div id="root"></div>
<!-- padding so the body clears the minimum-size gate for shell detection -->
</body></html>`

func TestIsRenderedEnough(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"static page with real text", staticPage, true},
		{"react shell", spaShell, false},
		{"tiny response", "<html></html>", false},
		{"empty next mount point", `<html><body><div id="__next"></div>` + strings.Repeat("<!-- x -->", 40) + `</body></html>`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRenderedEnough([]byte(tc.body)); got != tc.want {
				t.Fatalf("isRenderedEnough: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAcquire_StaticPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Margin") {
			t.Errorf("user agent: %q", ua)
		}
		w.Write([]byte(staticPage))
	}))
	defer srv.Close()

	got, err := New().Acquire(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Getting started") {
		t.Fatalf("body: %q", got)
	}
}

func TestAcquire_ShellWithoutEscalationReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(spaShell))
	}))
	defer srv.Close()

	got, err := New().Acquire(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `id="root"`) {
		t.Fatalf("body: %q", got)
	}
}

func TestAcquire_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := New().Acquire(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error on 502")
	}
}
