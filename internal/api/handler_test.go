package api

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/wechat-relay/internal/bot"
	"github.com/ashureev/wechat-relay/internal/chat"
	"github.com/ashureev/wechat-relay/internal/pending"
	"github.com/ashureev/wechat-relay/internal/session"
	"github.com/ashureev/wechat-relay/internal/usage"
	"github.com/ashureev/wechat-relay/internal/wechat"
	"github.com/go-chi/chi/v5"
)

type staticBot struct {
	text string
}

func (b *staticBot) Answer(ctx context.Context, user string, history []bot.Message) (*bot.Reply, error) {
	return &bot.Reply{Text: b.text, TotalTokens: 1}, nil
}

func newTestRouter(t *testing.T, wechatToken string) http.Handler {
	t.Helper()
	orch := chat.NewOrchestrator(
		&staticBot{text: "pong"},
		session.NewStore(30*time.Minute, nil),
		usage.NewLedger(usage.Config{DefaultLimit: 20, CommandToken: "TOK"}),
		pending.NewCoordinator(),
		"ops@example.com",
	)
	r := chi.NewRouter()
	NewHandler(orch, wechatToken).RegisterRoutes(r)
	return r
}

const inboundXML = `
<xml>
	<ToUserName><![CDATA[bot-account]]></ToUserName>
	<FromUserName><![CDATA[user-1]]></FromUserName>
	<CreateTime>1515830851</CreateTime>
	<MsgType><![CDATA[text]]></MsgType>
	<Content><![CDATA[ping]]></Content>
	<MsgId>6510443931858529216</MsgId>
</xml>`

func TestEcho(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wechat?echostr=verify-me-123", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "verify-me-123" {
		t.Errorf("Expected echostr byte-for-byte, got %q", w.Body.String())
	}
}

func TestEcho_SignatureEnforced(t *testing.T) {
	r := newTestRouter(t, "tok")

	timestamp, nonce := "1515830851", "n0nce"
	parts := []string{timestamp, nonce, "tok"} // sorted
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	sig := hex.EncodeToString(sum[:])

	q := url.Values{}
	q.Set("signature", sig)
	q.Set("timestamp", timestamp)
	q.Set("nonce", nonce)
	q.Set("echostr", "ok")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wechat?"+q.Encode(), nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("Expected signed verification to pass, got %d %q", w.Code, w.Body.String())
	}

	q.Set("signature", "bogus")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wechat?"+q.Encode(), nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for bad signature, got %d", w.Code)
	}
}

func TestMessage_TextReply(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/wechat", strings.NewReader(inboundXML)))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Expected text/xml content type, got %q", ct)
	}

	reply, err := wechat.ParseMessage(w.Body.Bytes())
	if err != nil {
		t.Fatalf("Reply is not valid message XML: %v", err)
	}
	if reply.ToUserName != "user-1" || reply.FromUserName != "bot-account" {
		t.Errorf("Reply addressing wrong: %+v", reply)
	}
	if reply.Content != "pong" {
		t.Errorf("Expected answer in reply, got %q", reply.Content)
	}
}

func TestMessage_MalformedBodyIgnored(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/wechat", strings.NewReader("not xml")))

	if w.Code != http.StatusOK {
		t.Errorf("Expected empty 200 for malformed body, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("Expected empty body, got %q", w.Body.String())
	}
}

func TestMessage_NonTextIgnored(t *testing.T) {
	r := newTestRouter(t, "")

	imageXML := strings.ReplaceAll(inboundXML, "[text]", "[image]")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/wechat", strings.NewReader(imageXML)))

	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("Expected empty 200 for non-text message, got %d %q", w.Code, w.Body.String())
	}
}
