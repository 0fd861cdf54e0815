// Package chat composes the session store, usage ledger, pending-answer
// coordinator and LLM client into the end-to-end answer pipeline.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ashureev/wechat-relay/internal/bot"
	"github.com/ashureev/wechat-relay/internal/pending"
	"github.com/ashureev/wechat-relay/internal/session"
	"github.com/ashureev/wechat-relay/internal/usage"
	"github.com/ashureev/wechat-relay/internal/wechat"
)

// Wait policy for duplicate deliveries: WeChat redelivers an unanswered
// callback within a few seconds, so a short bounded wait often turns a
// retry into a successful synchronous reply.
const (
	defaultMaxWait      = 3 * time.Second
	defaultPollInterval = time.Second
)

// Orchestrator handles one inbound text message end to end.
type Orchestrator struct {
	bot        bot.Bot
	sessions   *session.Store
	ledger     *usage.Ledger
	pending    *pending.Coordinator
	adminEmail string

	maxWait      time.Duration
	pollInterval time.Duration

	// pollReplyPolicy picks between serving the cached answer and a busy
	// hint on repeated polls; see its doc.
	pollReplyPolicy func(cached string) string
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(b bot.Bot, sessions *session.Store, ledger *usage.Ledger, coord *pending.Coordinator, adminEmail string) *Orchestrator {
	return &Orchestrator{
		bot:             b,
		sessions:        sessions,
		ledger:          ledger,
		pending:         coord,
		adminEmail:      adminEmail,
		maxWait:         defaultMaxWait,
		pollInterval:    defaultPollInterval,
		pollReplyPolicy: randomizedPollReply,
	}
}

// randomizedPollReply serves either the cached answer or the thinking hint,
// at random. WeChat treats repeated identical reply bodies for the same
// conversation as an error, so polls must not always return the same bytes.
// Compatibility quirk, not business logic; keep it isolated here.
func randomizedPollReply(cached string) string {
	if rand.Float64() < 0.5 {
		return waitTimeoutMsg
	}
	return cached
}

// Handle runs the pipeline for one inbound text message and returns the
// reply, or nil when the message should be ignored with an empty response.
func (o *Orchestrator) Handle(ctx context.Context, msg *wechat.Message) *wechat.Message {
	if !msg.IsText() {
		slog.Info("ignoring non-text message", "msg_type", msg.MsgType, "user_id", msg.FromUserName)
		return nil
	}
	user, question := msg.FromUserName, msg.Content

	if reply, ok := o.handleCommand(msg); ok {
		return reply
	}

	if o.ledger.ReachedLimit(user) {
		return wechat.NewTextReply(msg, rateLimitMsg(user, o.adminEmail))
	}

	switch o.pending.StartOrJoin(user, question) {
	case pending.Duplicate:
		answer, ok := o.pending.AwaitResult(ctx, user, o.maxWait, o.pollInterval)
		if !ok {
			return wechat.NewTextReply(msg, waitTimeoutMsg)
		}
		return wechat.NewTextReply(msg, answer)

	case pending.DifferentWhileBusy:
		return wechat.NewTextReply(msg, askTooFastMsg)

	case pending.ServeCached:
		answer, ok := o.pending.FetchCached(user)
		if !ok {
			// Race with a newer question replacing the record.
			return wechat.NewTextReply(msg, waitTimeoutMsg)
		}
		// The randomized response applies to poll-token deliveries only;
		// re-sending the resolved question gets the answer directly.
		if question == pending.PollToken {
			answer = o.pollReplyPolicy(answer)
		}
		return wechat.NewTextReply(msg, answer)

	default: // pending.Start
		return wechat.NewTextReply(msg, o.answer(ctx, user, question))
	}
}

// answer owns a Start decision: it must resolve the pending record exactly
// once and charge the ledger, on every path.
func (o *Orchestrator) answer(ctx context.Context, user, question string) string {
	defer o.ledger.OnChat(user)

	// The pending record must resolve even when the provider call panics
	// (the HTTP recoverer swallows the panic); an unresolved record would
	// wedge the user in PROCESSING forever.
	resolved := false
	resolve := func(answer string) {
		o.pending.Resolve(user, answer)
		resolved = true
	}
	defer func() {
		if !resolved {
			o.pending.Resolve(user, systemErrorMsg)
		}
	}()

	o.sessions.SweepExpired(false)
	o.sessions.AddUserMessage(user, question)

	reply, err := o.bot.Answer(ctx, user, toBotMessages(o.sessions.Messages(user)))
	if err != nil {
		if errors.Is(err, bot.ErrContextLength) {
			slog.Info("context window exceeded, clearing session", "user_id", user)
			o.sessions.ClearSession(user)
			resolve(tokenExceededMsg)
			return tokenExceededMsg
		}
		slog.Error("answer failed", "user_id", user, "error", err)
		resolve(systemErrorMsg)
		return systemErrorMsg
	}

	o.sessions.AddAssistantMessage(user, reply.Text, reply.TotalTokens)
	resolve(reply.Text)
	return reply.Text
}

// handleCommand intercepts ID-lookup, self-service and admin commands.
func (o *Orchestrator) handleCommand(msg *wechat.Message) (*wechat.Message, bool) {
	user := msg.FromUserName

	if isIDLookupCommand(msg.Content) {
		return wechat.NewTextReply(msg, user), true
	}

	reply, handled, err := o.ledger.HandleCommand(user, msg.Content)
	if err != nil {
		var format *usage.FormatError
		if errors.As(err, &format) {
			slog.Info("command format error", "user_id", user, "reason", format.Reason)
			return wechat.NewTextReply(msg, commandFailedMsg(format.Reason)), true
		}
		var perm *usage.PermissionError
		if errors.As(err, &perm) {
			// Do not confirm to the sender that an admin surface exists.
			slog.Warn("admin command denied", "user_id", user)
			return wechat.NewTextReply(msg, systemErrorMsg), true
		}
		slog.Error("command handling failed", "user_id", user, "error", err)
		return wechat.NewTextReply(msg, systemErrorMsg), true
	}
	if !handled {
		return nil, false
	}
	return wechat.NewTextReply(msg, commandSuccessMsg(reply)), true
}

func toBotMessages(msgs []session.ChatMessage) []bot.Message {
	out := make([]bot.Message, len(msgs))
	for i, m := range msgs {
		out[i] = bot.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
