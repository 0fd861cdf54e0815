// Package api provides the HTTP handlers for the WeChat webhook.
package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/wechat-relay/internal/chat"
	"github.com/ashureev/wechat-relay/internal/wechat"
	"github.com/go-chi/chi/v5"
)

const contentTypeXML = "text/xml"

// Handler serves the WeChat webhook endpoints.
type Handler struct {
	orch        *chat.Orchestrator
	wechatToken string
}

// NewHandler creates a webhook handler. wechatToken is the token configured
// in the WeChat console for endpoint verification; empty disables the
// signature check.
func NewHandler(orch *chat.Orchestrator, wechatToken string) *Handler {
	return &Handler{orch: orch, wechatToken: wechatToken}
}

// RegisterRoutes mounts the webhook endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/wechat", h.Echo)
	r.Post("/wechat", h.Message)
}

// Echo answers WeChat's endpoint verification: the echostr query parameter
// is returned byte-for-byte once the signature checks out.
func (h *Handler) Echo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if h.wechatToken != "" &&
		!wechat.CheckSignature(h.wechatToken, q.Get("signature"), q.Get("timestamp"), q.Get("nonce")) {
		slog.Warn("webhook verification with bad signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", contentTypeXML)
	_, _ = w.Write([]byte(q.Get("echostr")))
}

// Message handles an inbound webhook callback. The webhook protocol has no
// error signaling channel, so malformed or unsupported messages are ignored
// with an empty 200 response.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeXML)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Info("unable to read webhook body, ignoring", "error", err)
		return
	}

	msg, err := wechat.ParseMessage(body)
	if err != nil {
		slog.Info("unable to parse message, ignoring", "error", err)
		return
	}

	reply := h.orch.Handle(r.Context(), msg)
	if reply == nil {
		return
	}

	out, err := reply.Serialize()
	if err != nil {
		slog.Error("unable to serialize reply", "error", err, "user_id", msg.FromUserName)
		return
	}
	_, _ = w.Write(out)
}
