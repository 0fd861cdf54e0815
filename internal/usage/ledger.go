// Package usage enforces per-user daily chat limits and executes the
// admin command language embedded in chat text.
package usage

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/wechat-relay/internal/store"
)

// UserChatStat tracks chat counters for one user. The daily counter resets
// lazily the first time a limit check lands on a different calendar day.
type UserChatStat struct {
	User           string
	ChatCount      int
	TotalChatCount int
	LastChatAt     time.Time
}

// Config seeds a Ledger.
type Config struct {
	AdminUsers   []string
	WhiteList    []string
	Limits       map[string]int
	DefaultLimit int
	CommandToken string
	Now          func() time.Time
}

// Ledger owns per-user chat counters, the allow-list and per-user limit
// overrides. All state is in memory; the mutable policy part is exposed via
// Snapshot for periodic persistence.
type Ledger struct {
	mu           sync.Mutex
	adminUsers   []string
	adminSet     map[string]bool
	whiteList    map[string]bool
	limits       map[string]int
	defaultLimit int
	token        string
	stats        map[string]*UserChatStat
	now          func() time.Time
}

// NewLedger builds a ledger from config. Admin users are implicitly
// allow-listed.
func NewLedger(cfg Config) *Ledger {
	l := &Ledger{
		adminUsers:   append([]string(nil), cfg.AdminUsers...),
		adminSet:     make(map[string]bool),
		whiteList:    make(map[string]bool),
		limits:       make(map[string]int),
		defaultLimit: cfg.DefaultLimit,
		token:        cfg.CommandToken,
		stats:        make(map[string]*UserChatStat),
		now:          cfg.Now,
	}
	if l.now == nil {
		l.now = time.Now
	}
	for _, u := range cfg.AdminUsers {
		l.adminSet[u] = true
		l.whiteList[u] = true
	}
	for _, u := range cfg.WhiteList {
		if u != "" {
			l.whiteList[u] = true
		}
	}
	for u, n := range cfg.Limits {
		l.limits[u] = n
	}
	return l
}

// OnChat records one attempted answer cycle for the user.
func (l *Ledger) OnChat(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stat, ok := l.stats[user]
	if !ok {
		stat = &UserChatStat{User: user}
		l.stats[user] = stat
	}
	stat.ChatCount++
	stat.TotalChatCount++
	stat.LastChatAt = l.now()
}

// ReachedLimit reports whether the user exhausted today's quota. Admins and
// allow-listed users are never limited.
func (l *Ledger) ReachedLimit(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	stat, ok := l.stats[user]
	if !ok {
		return false
	}
	if l.whiteList[user] {
		return false
	}
	if !stat.LastChatAt.IsZero() && !sameDay(l.now(), stat.LastChatAt) {
		stat.ChatCount = 0
		stat.LastChatAt = time.Time{}
	}
	limit := l.defaultLimit
	if n, ok := l.limits[user]; ok {
		limit = n
	}
	return stat.ChatCount >= limit
}

// TodayCount returns the user's chat count for today.
func (l *Ledger) TodayCount(user string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	stat, ok := l.stats[user]
	if !ok {
		return 0
	}
	return stat.ChatCount
}

// IsAdmin reports whether the user may run admin commands.
func (l *Ledger) IsAdmin(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.adminSet[user]
}

// Snapshot returns the persistable policy state.
func (l *Ledger) Snapshot() store.PolicySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := store.PolicySnapshot{
		WhiteList:    make([]string, 0, len(l.whiteList)),
		Limits:       make(map[string]int, len(l.limits)),
		DefaultLimit: l.defaultLimit,
		Token:        l.token,
	}
	for u := range l.whiteList {
		snap.WhiteList = append(snap.WhiteList, u)
	}
	sort.Strings(snap.WhiteList)
	for u, n := range l.limits {
		snap.Limits[u] = n
	}
	return snap
}

func (l *Ledger) addWhiteList(user string) {
	slog.Info("user added to white list", "user_id", user)
	l.whiteList[user] = true
}

func (l *Ledger) removeWhiteList(user string) {
	slog.Info("user removed from white list", "user_id", user)
	delete(l.whiteList, user)
}

func (l *Ledger) setLimit(user string, limit int) {
	prev, ok := l.limits[user]
	slog.Info("user daily limit changed", "user_id", user, "limit", limit, "previous", prev, "had_override", ok)
	l.limits[user] = limit
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Stat aggregates for the get_stat admin command.
type ledgerStat struct {
	TotalUserCount        int     `json:"total_user_count"`
	TotalChatCount        int     `json:"total_chat_count"`
	MaxUserChatCount      int     `json:"max_user_chat_count"`
	MinUserChatCount      int     `json:"min_user_chat_count"`
	AvgUserChatCount      float64 `json:"avg_user_chat_count"`
	TodayChatUserCount    int     `json:"today_chat_user_count"`
	TodayChatCount        int     `json:"today_chat_count"`
	TodayMaxUserChatCount int     `json:"today_max_user_chat_count"`
	TodayMinUserChatCount int     `json:"today_min_user_chat_count"`
	TodayAvgUserChatCount float64 `json:"today_avg_user_chat_count"`
}

func (l *Ledger) statLocked() ledgerStat {
	var out ledgerStat
	out.TotalUserCount = len(l.stats)

	now := l.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	first := true
	todayFirst := true
	for _, stat := range l.stats {
		out.TotalChatCount += stat.TotalChatCount
		if first || stat.TotalChatCount > out.MaxUserChatCount {
			out.MaxUserChatCount = stat.TotalChatCount
		}
		if first || stat.TotalChatCount < out.MinUserChatCount {
			out.MinUserChatCount = stat.TotalChatCount
		}
		first = false

		if !stat.LastChatAt.IsZero() && !stat.LastChatAt.Before(today) {
			out.TodayChatUserCount++
			out.TodayChatCount += stat.ChatCount
			if todayFirst || stat.ChatCount > out.TodayMaxUserChatCount {
				out.TodayMaxUserChatCount = stat.ChatCount
			}
			if todayFirst || stat.ChatCount < out.TodayMinUserChatCount {
				out.TodayMinUserChatCount = stat.ChatCount
			}
			todayFirst = false
		}
	}
	if out.TotalUserCount > 0 {
		out.AvgUserChatCount = float64(out.TotalChatCount) / float64(out.TotalUserCount)
	}
	if out.TodayChatUserCount > 0 {
		out.TodayAvgUserChatCount = float64(out.TodayChatCount) / float64(out.TodayChatUserCount)
	}
	return out
}

// policyConfig mirrors the config dump shape for the get_config command.
type policyConfig struct {
	AdminUsers   []string       `json:"admin_users"`
	WhiteList    []string       `json:"user_white_list"`
	Limits       map[string]int `json:"user_chat_count_per_day"`
	DefaultLimit int            `json:"default_user_chat_count_per_day"`
}

func (l *Ledger) configLocked() policyConfig {
	whiteList := make([]string, 0, len(l.whiteList))
	for u := range l.whiteList {
		whiteList = append(whiteList, u)
	}
	sort.Strings(whiteList)
	limits := make(map[string]int, len(l.limits))
	for u, n := range l.limits {
		limits[u] = n
	}
	return policyConfig{
		AdminUsers:   append([]string(nil), l.adminUsers...),
		WhiteList:    whiteList,
		Limits:       limits,
		DefaultLimit: l.defaultLimit,
	}
}

// String implements a compact debug form used in logs.
func (s *UserChatStat) String() string {
	return fmt.Sprintf("{user=%s, today=%d, total=%d}", s.User, s.ChatCount, s.TotalChatCount)
}
