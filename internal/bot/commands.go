package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yicheng-lo/prayerbot/internal/models"
	"github.com/yicheng-lo/prayerbot/internal/service"
)

// errNoTargetGroup is the deployment-misconfiguration case: a command needs
// the configured group conversation and none is set.
var errNoTargetGroup = errors.New("target group not configured")

const (
	msgInternalError = "不好意思，系統發生錯誤，請稍後再試。"
	msgNotConfigured = "不好意思，機器人還沒有設定完成，請聯絡管理員。"
)

// scope rules: the two deployment variants gate different commands, see
// the member-key policy.
func anyScope(service.Policy) (bool, bool) { return true, true }

func directOnlyWhenIdentityKeyed(p service.Policy) (bool, bool) {
	if p.MemberKey == service.KeyByIdentity {
		return true, false
	}
	return true, true
}

func groupOnlyWhenNameKeyed(p service.Policy) (bool, bool) {
	if p.MemberKey == service.KeyByDisplayName {
		return false, true
	}
	return true, true
}

// commandTable is the fixed ordered dispatch table; first match wins.
func (r *Router) commandTable() []command {
	return []command{
		{
			name:    "help",
			aliases: []string{"幫助", "help"},
			usage:   "幫助",
			help:    "顯示這份指令說明",
			scopes:  anyScope,
			handle:  r.handleHelp,
		},
		{
			name:    "join",
			aliases: []string{"加入代禱", "join"},
			usage:   "加入代禱 <名字>",
			help:    "加入代禱名單",
			scopes:  anyScope,
			handle:  r.handleJoin,
		},
		{
			name:    "rename-self",
			aliases: []string{"修改我的名字", "rename-self"},
			usage:   "修改我的名字 <新名字>",
			help:    "修改自己在名單上的名字",
			scopes:  directOnlyWhenIdentityKeyed,
			handle:  r.handleRenameSelf,
		},
		{
			name:    "rename-member",
			aliases: []string{"修改成員名字", "rename-member"},
			usage:   "修改成員名字 <舊名字> <新名字>",
			help:    "修改成員的名字（管理員）",
			scopes:  directOnlyWhenIdentityKeyed,
			handle:  r.handleRenameMember,
		},
		{
			name:    "submit",
			aliases: []string{"代禱", "submit"},
			usage:   "代禱 <內容>（輸入「代禱 同上週」沿用上週）",
			help:    "更新本週的代禱事項",
			scopes:  anyScope,
			handle:  r.handleSubmit,
		},
		{
			name:    "my-entry",
			aliases: []string{"我的代禱", "my-entry"},
			usage:   "我的代禱",
			help:    "查看自己本週的代禱事項",
			scopes:  anyScope,
			handle:  r.handleMyEntry,
		},
		{
			name:    "list-entries",
			aliases: []string{"代禱列表", "list-entries"},
			usage:   "代禱列表",
			help:    "查看本週所有代禱事項",
			scopes:  anyScope,
			handle:  r.handleListEntries,
		},
		{
			name:    "list-members",
			aliases: []string{"名單列表", "list-members"},
			usage:   "名單列表",
			help:    "查看代禱名單（管理員）",
			scopes:  directOnlyWhenIdentityKeyed,
			handle:  r.handleListMembers,
		},
		{
			name:    "start-round",
			aliases: []string{"開始代禱", "start-round"},
			usage:   "開始代禱 [截止時間]",
			help:    "開始新的一週（管理員）",
			scopes:  groupOnlyWhenNameKeyed,
			handle:  r.handleStartRound,
		},
		{
			name:    "end-round",
			aliases: []string{"結束代禱", "end-round"},
			usage:   "結束代禱",
			help:    "結束本週並發佈彙整（管理員）",
			scopes:  groupOnlyWhenNameKeyed,
			handle:  r.handleEndRound,
		},
		{
			name:    "remove-member",
			aliases: []string{"移除成員", "remove-member"},
			usage:   "移除成員 <名字>",
			help:    "將成員從名單移除（管理員）",
			scopes:  anyScope,
			handle:  r.handleRemoveMember,
		},
		{
			name:    "set-roster",
			aliases: []string{"名單設定", "set-roster"},
			usage:   "名單設定 <名字1> <名字2> ...",
			help:    "一次建立或補齊名單（管理員）",
			scopes:  anyScope,
			handle:  r.handleSetRoster,
		},
	}
}

// HelpText renders the command table, with the configured prefix applied.
func (r *Router) HelpText() string {
	var b strings.Builder
	b.WriteString("代禱小幫手指令：")
	for _, cmd := range r.commands {
		b.WriteString("\n")
		b.WriteString(r.cfg.CommandPrefix)
		b.WriteString(cmd.usage)
		b.WriteString("：")
		b.WriteString(cmd.help)
	}
	return b.String()
}

func (r *Router) handleHelp(ctx context.Context, ev Event, payload string) (string, error) {
	return r.HelpText(), nil
}

func (r *Router) handleJoin(ctx context.Context, ev Event, payload string) (string, error) {
	name := payload
	if name == "" && r.profiles != nil {
		fetched, err := r.profiles.GetProfile(ctx, ev.UserID)
		if err != nil {
			slog.Warn("Profile fetch failed, join needs an explicit name",
				"user_id", ev.UserID, "error", err)
		} else {
			name = fetched
		}
	}
	if strings.TrimSpace(name) == "" {
		return "請在「加入代禱」後面加上你的名字，例如：加入代禱 小明", nil
	}

	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	res, err := r.roster.JoinOrUpdate(ctx, groupID, ev.UserID, name)
	if err != nil {
		return "", err
	}

	switch {
	case res.GroupCreated:
		return fmt.Sprintf("代禱名單建立好了！%s 是第一位成員，也是管理員。", res.DisplayName), nil
	case res.MemberAdded:
		return fmt.Sprintf("歡迎 %s 加入代禱名單！", res.DisplayName), nil
	case res.Renamed:
		return fmt.Sprintf("已把你的名字更新為「%s」。", res.DisplayName), nil
	default:
		return fmt.Sprintf("%s 已經在名單裡囉。", res.DisplayName), nil
	}
}

func (r *Router) handleRenameSelf(ctx context.Context, ev Event, payload string) (string, error) {
	if payload == "" {
		return "", service.ErrEmptyText
	}
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	if err := r.roster.RenameSelf(ctx, groupID, ev.UserID, payload); err != nil {
		return "", err
	}
	return fmt.Sprintf("好的，已把你的名字改成「%s」。", strings.TrimSpace(payload)), nil
}

func (r *Router) handleRenameMember(ctx context.Context, ev Event, payload string) (string, error) {
	parts := strings.Fields(payload)
	if len(parts) != 2 {
		return "", service.ErrEmptyText
	}
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	if err := r.roster.RenameMember(ctx, groupID, ev.UserID, parts[0], parts[1]); err != nil {
		return "", err
	}
	return fmt.Sprintf("已把「%s」改名為「%s」。", parts[0], parts[1]), nil
}

func (r *Router) handleSubmit(ctx context.Context, ev Event, payload string) (string, error) {
	if payload == "" {
		return "", service.ErrEmptyText
	}
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	group, round, err := r.rounds.SubmitEntry(ctx, groupID, ev.UserID, payload)
	if err != nil {
		return "", err
	}

	ack := "已收到你的代禱事項！"
	if key, kerr := r.roster.ResolveMemberKey(group, ev.UserID); kerr == nil {
		if entry, ok := round.Entries[key]; ok {
			switch entry.Status {
			case models.StatusSameAsLastWeek:
				ack = "好的，已標記為同上週（找不到上週的內容，欄位保持空白）。"
			case models.StatusUpdatedFromLastWeek:
				ack = "好的，已幫你帶入上週的代禱內容。"
			}
		}
	}
	return ack + "\n\n" + r.roundDigest(round, group), nil
}

func (r *Router) handleMyEntry(ctx context.Context, ev Event, payload string) (string, error) {
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	entry, err := r.rounds.MyEntry(ctx, groupID, ev.UserID)
	if err != nil {
		return "", err
	}
	return service.RenderEntry(*entry), nil
}

func (r *Router) handleListEntries(ctx context.Context, ev Event, payload string) (string, error) {
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	group, round, err := r.rounds.QueryRound(ctx, groupID)
	if err != nil {
		return "", err
	}
	return r.roundDigest(round, group), nil
}

func (r *Router) handleListMembers(ctx context.Context, ev Event, payload string) (string, error) {
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	// Listing the roster is admin-only; the check degrades to denial on
	// any lookup failure.
	if !r.roster.IsAdmin(ctx, groupID, ev.UserID) {
		return "", service.ErrPermissionDenied
	}
	members, err := r.roster.ListMembers(ctx, groupID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("代禱名單（%d 位成員）：", len(members)))
	for i, m := range members {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, m.DisplayName))
		if m.IsAdmin {
			b.WriteString("（管理員）")
		}
	}
	return b.String(), nil
}

func (r *Router) handleStartRound(ctx context.Context, ev Event, payload string) (string, error) {
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	group, round, err := r.rounds.StartRound(ctx, groupID, ev.UserID, payload)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("本週代禱開始！")
	if round.DeadlineText != "" {
		b.WriteString("\n截止時間：" + round.DeadlineText)
	}
	b.WriteString("\n" + service.RenderDigest(group, round))
	b.WriteString("\n\n輸入「" + r.cfg.CommandPrefix + "代禱 內容」更新你的代禱事項，或輸入「" + r.cfg.CommandPrefix + "代禱 同上週」沿用上週。")
	announcement := b.String()

	if ev.Scope == ScopeGroup {
		return announcement, nil
	}
	if err := r.pushToGroup(ctx, announcement); err != nil {
		return "", err
	}
	return "已開始本週代禱，名單發佈到群組了。", nil
}

func (r *Router) handleEndRound(ctx context.Context, ev Event, payload string) (string, error) {
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	group, round, alreadyEnded, err := r.rounds.EndRound(ctx, groupID, ev.UserID)
	if err != nil {
		return "", err
	}
	if alreadyEnded {
		return "這一輪代禱已經結束過了。", nil
	}

	closing := "本週代禱結束，以下是大家的代禱事項：\n" + service.RenderDigest(group, round)
	if ev.Scope == ScopeGroup {
		return closing, nil
	}
	if err := r.pushToGroup(ctx, closing); err != nil {
		return "", err
	}
	return "已結束本週代禱，彙整發佈到群組了。", nil
}

func (r *Router) handleRemoveMember(ctx context.Context, ev Event, payload string) (string, error) {
	if payload == "" {
		return "", service.ErrEmptyText
	}
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	if err := r.roster.RemoveMember(ctx, groupID, ev.UserID, payload); err != nil {
		return "", err
	}
	return fmt.Sprintf("已將「%s」從名單移除。", strings.TrimSpace(payload)), nil
}

func (r *Router) handleSetRoster(ctx context.Context, ev Event, payload string) (string, error) {
	names := strings.Fields(payload)
	if len(names) == 0 {
		return "", service.ErrEmptyText
	}
	groupID, err := r.groupID(ev)
	if err != nil {
		return "", err
	}
	group, err := r.roster.SetRoster(ctx, groupID, ev.UserID, names)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("名單設定好了，目前共 %d 位成員。", len(group.Members)), nil
}

// roundDigest frames the shared digest body with the round's date and
// deadline.
func (r *Router) roundDigest(round *models.Round, group *models.Group) string {
	header := "本週代禱事項（" + round.RoundDate
	if round.DeadlineText != "" {
		header += "，截止：" + round.DeadlineText
	}
	header += "）："
	return header + "\n" + service.RenderDigest(group, round)
}

// isUserError reports whether the error has a corrective reply, as opposed
// to an internal failure that gets the generic apology.
func isUserError(err error) bool {
	for _, sentinel := range []error{
		service.ErrPermissionDenied, service.ErrNotAMember, service.ErrNotBound,
		service.ErrNoActiveRound, service.ErrAlreadyActive, service.ErrMemberNotFound,
		service.ErrNameConflict, service.ErrGroupNotFound, service.ErrEmptyRoster,
		service.ErrNotInRound, service.ErrEmptyText, service.ErrInvalidName,
		errNoTargetGroup,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func userErrorReply(err error, cmd *command) string {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		return "這個指令只有管理員可以使用。"
	case errors.Is(err, service.ErrNotAMember):
		return "你還不在代禱名單裡，請先輸入「加入代禱」。"
	case errors.Is(err, service.ErrNotBound):
		return "找不到你對應的名單成員，請先輸入「加入代禱 你的名字」完成綁定。"
	case errors.Is(err, service.ErrNoActiveRound):
		return "目前沒有進行中的代禱週。"
	case errors.Is(err, service.ErrAlreadyActive):
		return "已經有進行中的代禱週了，請先結束再開始新的一週。"
	case errors.Is(err, service.ErrMemberNotFound):
		return "名單裡找不到這位成員。"
	case errors.Is(err, service.ErrNameConflict):
		return "這個名字已經有人使用了，請換一個。"
	case errors.Is(err, service.ErrGroupNotFound):
		return "代禱名單還沒有建立，請先輸入「加入代禱」。"
	case errors.Is(err, service.ErrEmptyRoster):
		return "名單是空的，請先請大家加入。"
	case errors.Is(err, service.ErrNotInRound):
		return "這一輪的名單裡沒有你，下一輪開始時就會包含你了。"
	case errors.Is(err, service.ErrEmptyText):
		return "指令格式：" + cmd.usage
	case errors.Is(err, service.ErrInvalidName):
		return "名字不能包含「.」或「$」，請換一個名字。"
	case errors.Is(err, errNoTargetGroup):
		return msgNotConfigured
	default:
		return msgInternalError
	}
}
