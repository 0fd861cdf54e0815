package usage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

const (
	selfServeCountCommand = "user_command:get_msg_count"
	adminCommandPrefix    = "admin-command:"
)

var limitCountPattern = regexp.MustCompile(`^[0-9]+$`)

// FormatError reports a malformed admin command. Its message is echoed back
// to the sender, which is safe because only admins ever see it.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return e.Reason }

// PermissionError reports a non-admin invoking the admin command prefix.
// The orchestrator logs it and answers with a generic failure so the
// attempt is not confirmed to the sender.
type PermissionError struct {
	User string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s has not enough privilege", e.User)
}

// HandleCommand intercepts self-service and admin commands embedded in chat
// text. It returns handled=false when msg is ordinary chat. The reply string
// is non-empty for commands that produce output (counts, config, stats);
// successful mutations return an empty reply with handled=true.
func (l *Ledger) HandleCommand(user, msg string) (reply string, handled bool, err error) {
	lines := splitCommandLines(msg)
	if len(lines) == 0 {
		return "", false, nil
	}

	if lines[0] == selfServeCountCommand {
		return strconv.Itoa(l.TodayCount(user)), true, nil
	}

	if !strings.HasPrefix(lines[0], adminCommandPrefix) {
		return "", false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.adminSet[user] {
		slog.Warn("non-admin attempted admin command", "user_id", user)
		return "", false, &PermissionError{User: user}
	}
	if strings.TrimPrefix(lines[0], adminCommandPrefix) != l.token {
		return "", false, &FormatError{Reason: "Invalid admin token"}
	}
	if len(lines) != 3 {
		return "", false, &FormatError{
			Reason: fmt.Sprintf("Must be lines to set command and args, found %d lines (should be 3)", len(lines)),
		}
	}

	cmd, args := lines[1], lines[2]
	switch cmd {
	case "add_white_list":
		for _, u := range splitCommaList(args) {
			l.addWhiteList(u)
		}
		return "", true, nil

	case "remove_white_list":
		for _, u := range splitCommaList(args) {
			l.removeWhiteList(u)
		}
		return "", true, nil

	case "set_limit":
		parts := splitCommaList(args)
		if len(parts) != 2 || !limitCountPattern.MatchString(parts[1]) {
			return "", false, &FormatError{
				Reason: fmt.Sprintf("Args for set limit must be `{user_id},{count}`, found %s", args),
			}
		}
		limit, _ := strconv.Atoi(parts[1])
		l.setLimit(parts[0], limit)
		return "", true, nil

	case "set_token":
		token := strings.TrimSpace(args)
		if token == "" {
			return "", false, &FormatError{Reason: "Arg for set token must be a non-empty token"}
		}
		l.token = token
		slog.Info("admin command token rotated", "user_id", user)
		return "", true, nil

	case "get_config":
		out, err := json.MarshalIndent(l.configLocked(), "", "  ")
		if err != nil {
			return "", false, fmt.Errorf("encode config: %w", err)
		}
		return string(out), true, nil

	case "get_stat":
		out, err := json.MarshalIndent(l.statLocked(), "", "  ")
		if err != nil {
			return "", false, fmt.Errorf("encode stat: %w", err)
		}
		return string(out), true, nil

	default:
		return "", false, &FormatError{Reason: "Unknown command: " + cmd}
	}
}

func splitCommandLines(msg string) []string {
	var lines []string
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func splitCommaList(args string) []string {
	var out []string
	for _, part := range strings.Split(args, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
