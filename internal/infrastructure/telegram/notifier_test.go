package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPublishDigestPostsForm(t *testing.T) {
	t.Parallel()

	var path, chat, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = r.ParseForm()
		chat, text = r.PostForm.Get("chat_id"), r.PostForm.Get("text")
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL+"/", "TOKEN", "42")
	if err := n.PublishDigest(context.Background(), "*Run r1*: completed"); err != nil {
		t.Fatalf("PublishDigest() error = %v", err)
	}
	if path != "/botTOKEN/sendMessage" || chat != "42" || text != "*Run r1*: completed" {
		t.Fatalf("unexpected request path=%q chat=%q text=%q", path, chat, text)
	}
}

func TestPublishDigestErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if err := NewNotifier(srv.URL, "bad", "42").PublishDigest(context.Background(), "hi"); err == nil {
		t.Fatalf("expected status error")
	}
	if err := NewNotifier(srv.URL, "", "").PublishDigest(context.Background(), "hi"); err == nil {
		t.Fatalf("expected misconfiguration error")
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ж", 5000)
	got := truncate(long, maxMessageLen)
	if utf8.RuneCountInString(got) != maxMessageLen || !utf8.ValidString(got) {
		t.Fatalf("unexpected truncation: %d runes", utf8.RuneCountInString(got))
	}
}
