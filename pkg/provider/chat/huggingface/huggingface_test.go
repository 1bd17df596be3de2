package huggingface

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
)

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New("key", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestChat_Success(t *testing.T) {
	var gotAuth string
	var gotReq generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/test/model" {
			t.Errorf("path = %q, want /models/test/model", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		json.NewEncoder(w).Encode([]generateResponse{{GeneratedText: "  hi there!  "}})
	}))
	defer srv.Close()

	b, err := New("secret", "test/model", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, ok := b.Chat(context.Background(), "hello", []chat.Message{
		{Role: chat.RoleUser, Content: "earlier question"},
		{Role: chat.RoleAssistant, Content: "earlier answer"},
	})
	if !ok {
		t.Fatal("Chat reported failure")
	}
	if reply != "hi there!" {
		t.Errorf("reply = %q, want trimmed %q", reply, "hi there!")
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", gotAuth)
	}
	if !strings.Contains(gotReq.Inputs, "User: earlier question") ||
		!strings.Contains(gotReq.Inputs, "Assistant: earlier answer") ||
		!strings.HasSuffix(gotReq.Inputs, "User: hello\nAssistant:") {
		t.Errorf("prompt not assembled from history:\n%s", gotReq.Inputs)
	}
}

func TestChat_ServerErrorReportsNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model loading"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, _ := New("", "m", WithBaseURL(srv.URL))
	if reply, ok := b.Chat(context.Background(), "hi", nil); ok || reply != "" {
		t.Fatalf("Chat = (%q, %v), want empty and not ok", reply, ok)
	}
}

func TestChat_EmptyGenerationReportsNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]generateResponse{{GeneratedText: "   "}})
	}))
	defer srv.Close()

	b, _ := New("", "m", WithBaseURL(srv.URL))
	if _, ok := b.Chat(context.Background(), "hi", nil); ok {
		t.Fatal("Chat should report not ok for blank generation")
	}
}

func TestBuildPrompt_NoHistory(t *testing.T) {
	got := buildPrompt("what time is it", nil)
	want := "User: what time is it\nAssistant:"
	if got != want {
		t.Errorf("buildPrompt = %q, want %q", got, want)
	}
}
