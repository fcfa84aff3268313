package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/turnloop/internal/types"
)

func urlArgs(u string) json.RawMessage {
	args, _ := json.Marshal(map[string]string{"url": u})
	return args
}

func TestReadURLName(t *testing.T) {
	r := NewReadURL(0)
	if r.Name() != "read_url" {
		t.Errorf("expected 'read_url', got %q", r.Name())
	}
}

func TestReadURLExecute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><h1>Hello World</h1><p>This is a test.</p></body></html>`))
	}))
	defer server.Close()

	result, err := NewReadURL(0).Execute(context.Background(), urlArgs(server.URL))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "# Hello World") {
		t.Errorf("expected markdown heading in result, got %q", result)
	}
	if !strings.Contains(result, "This is a test") {
		t.Errorf("expected 'This is a test' in result, got %q", result)
	}
}

func TestReadURLPlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("<not html>"))
	}))
	defer server.Close()

	result, err := NewReadURL(0).Execute(context.Background(), urlArgs(server.URL))
	if err != nil {
		t.Fatal(err)
	}
	if result != "<not html>" {
		t.Errorf("expected raw text, got %q", result)
	}
}

func TestReadURLImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer server.Close()

	text, content, err := NewReadURL(0).ExecuteContent(context.Background(), urlArgs(server.URL+"/cat.png"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "image/png") {
		t.Errorf("expected media type in text, got %q", text)
	}
	if len(content) != 1 || content[0].Type != types.ContentImage || content[0].URL != server.URL+"/cat.png" {
		t.Errorf("unexpected content %+v", content)
	}
}

func TestReadURLMissingURL(t *testing.T) {
	_, err := NewReadURL(0).Execute(context.Background(), json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for missing URL")
	}
}

func TestReadURLStatusError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := NewReadURL(0).Execute(context.Background(), urlArgs(server.URL))
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestReadURLTruncation(t *testing.T) {
	long := strings.Repeat("x", 600)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
	}))
	defer server.Close()

	result, err := NewReadURL(100).Execute(context.Background(), urlArgs(server.URL))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(result, "[Content truncated]") || len(result) > 130 {
		t.Errorf("expected truncation, got length %d", len(result))
	}
}
