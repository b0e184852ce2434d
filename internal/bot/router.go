// Package bot maps inbound chat text to roster and round operations and
// turns the outcome into replies or pushes.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/yicheng-lo/prayerbot/internal/metrics"
	"github.com/yicheng-lo/prayerbot/internal/service"
)

// Scope tags where an event came from.
type Scope int

const (
	// ScopeDirect is a one-on-one chat with the bot.
	ScopeDirect Scope = iota
	// ScopeGroup is the shared group chat.
	ScopeGroup
)

// Event is the router's view of one inbound message: the tagged source
// variant plus sender, reply token and text.
type Event struct {
	Scope      Scope
	GroupID    string // set when Scope is ScopeGroup
	UserID     string
	ReplyToken string
	Text       string
}

// Dispatcher is the outbound boundary: a reply bound to the triggering
// event, or a push to a conversation target.
type Dispatcher interface {
	ReplyText(ctx context.Context, replyToken, text string) error
	PushText(ctx context.Context, to, text string) error
}

// ProfileSource resolves a platform user ID to a display name, used when a
// join command carries no name.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (string, error)
}

// Config carries the deployment knobs the router consults.
type Config struct {
	// TargetGroupID is the one configured group conversation. Commands
	// sent in a direct chat operate on this group and push announcements
	// to it.
	TargetGroupID string

	// CommandPrefix, when non-empty, must lead every command (e.g. "/").
	// Unprefixed text is ignored.
	CommandPrefix string

	Policy service.Policy
}

// Router dispatches normalized inbound text against a fixed ordered
// command table. Unmatched text yields no reply in either scope, to keep
// shared chats quiet.
type Router struct {
	cfg        Config
	roster     *service.RosterService
	rounds     *service.RoundService
	dispatcher Dispatcher
	profiles   ProfileSource
	commands   []command
}

// command is one row of the dispatch table. First match wins.
type command struct {
	name    string
	aliases []string
	usage   string
	help    string
	scopes  func(p service.Policy) (direct, group bool)
	handle  func(ctx context.Context, ev Event, payload string) (string, error)
}

// NewRouter builds the router and its command table.
func NewRouter(cfg Config, roster *service.RosterService, rounds *service.RoundService, dispatcher Dispatcher, profiles ProfileSource) *Router {
	r := &Router{
		cfg:        cfg,
		roster:     roster,
		rounds:     rounds,
		dispatcher: dispatcher,
		profiles:   profiles,
	}
	r.commands = r.commandTable()
	return r
}

// HandleEvent routes one text event. Command outcomes, including user
// mistakes and internal failures, are answered via the dispatcher; the
// returned error only reports dispatch (send) failures.
func (r *Router) HandleEvent(ctx context.Context, ev Event) error {
	text := strings.TrimSpace(ev.Text)
	if r.cfg.CommandPrefix != "" {
		if !strings.HasPrefix(text, r.cfg.CommandPrefix) {
			return nil
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, r.cfg.CommandPrefix))
	}
	if text == "" {
		return nil
	}

	token := text
	payload := ""
	if i := strings.IndexFunc(text, isSpace); i >= 0 {
		token = text[:i]
		payload = strings.TrimSpace(text[i:])
	}

	cmd := r.match(token)
	if cmd == nil {
		// Silence: unmatched text in a shared chat must not produce noise,
		// and a direct chat gets the same treatment.
		return nil
	}

	direct, group := cmd.scopes(r.cfg.Policy)
	if (ev.Scope == ScopeDirect && !direct) || (ev.Scope == ScopeGroup && !group) {
		metrics.Commands.WithLabelValues(cmd.name, "rejected").Inc()
		return r.reply(ctx, ev, r.scopeHint(cmd, ev.Scope))
	}

	reply, err := cmd.handle(ctx, ev, payload)
	switch {
	case err == nil:
		metrics.Commands.WithLabelValues(cmd.name, "ok").Inc()
	case isUserError(err):
		metrics.Commands.WithLabelValues(cmd.name, "rejected").Inc()
		reply = userErrorReply(err, cmd)
	default:
		// Always apologize on internal errors, admin commands included; a
		// silent partial failure confuses more than an apology.
		metrics.Commands.WithLabelValues(cmd.name, "error").Inc()
		slog.Error("Command failed", "command", cmd.name, "group_id", ev.GroupID,
			"user_id", ev.UserID, "error", err)
		reply = msgInternalError
	}

	if reply == "" {
		return nil
	}
	return r.reply(ctx, ev, reply)
}

func (r *Router) match(token string) *command {
	for i := range r.commands {
		for _, alias := range r.commands[i].aliases {
			if strings.EqualFold(token, alias) {
				return &r.commands[i]
			}
		}
	}
	return nil
}

func (r *Router) reply(ctx context.Context, ev Event, text string) error {
	if err := r.dispatcher.ReplyText(ctx, ev.ReplyToken, text); err != nil {
		slog.Error("Failed to send reply", "user_id", ev.UserID, "error", err)
		return err
	}
	return nil
}

// pushToGroup announces text in the configured group conversation. Used by
// direct-chat admin commands whose result the whole group must see.
func (r *Router) pushToGroup(ctx context.Context, text string) error {
	if r.cfg.TargetGroupID == "" {
		return errNoTargetGroup
	}
	return r.dispatcher.PushText(ctx, r.cfg.TargetGroupID, text)
}

// groupID resolves which group a command operates on: the chat it arrived
// in, or the configured target for direct chats.
func (r *Router) groupID(ev Event) (string, error) {
	if ev.Scope == ScopeGroup {
		return ev.GroupID, nil
	}
	if r.cfg.TargetGroupID == "" {
		return "", errNoTargetGroup
	}
	return r.cfg.TargetGroupID, nil
}

func (r *Router) scopeHint(cmd *command, scope Scope) string {
	if scope == ScopeGroup {
		return "「" + cmd.aliases[0] + "」請改用私訊跟我說"
	}
	return "「" + cmd.aliases[0] + "」請在群組裡使用"
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '　'
}
