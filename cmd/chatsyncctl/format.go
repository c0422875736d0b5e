package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

type printer func(w io.Writer, resp map[string]any)

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// num reads a JSON number decoded from a structpb value.
func num(v any) int64 {
	f, _ := v.(float64)
	return int64(f)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func list(v any) []map[string]any {
	items, _ := v.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func clock(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func printStatus(w io.Writer, resp map[string]any) {
	fmt.Fprintf(w, "Session:      %s\n", str(resp["session"]))
	fmt.Fprintf(w, "Uptime:       %s\n", (time.Duration(num(resp["uptime_ms"])) * time.Millisecond).Round(time.Second))
	if user := num(resp["current_user"]); user > 0 {
		fmt.Fprintf(w, "User:         %d\n", user)
	} else {
		fmt.Fprintln(w, "User:         (unknown)")
	}
	fmt.Fprintf(w, "Dialogs:      %d\n", num(resp["dialogs"]))
	if _, ok := resp["mirrored_messages"]; ok {
		fmt.Fprintf(w, "Mirrored:     %d messages in %d conversations\n",
			num(resp["mirrored_messages"]), num(resp["mirrored_conversations"]))
	}

	conns, _ := resp["connections"].(map[string]any)
	if len(conns) == 0 {
		fmt.Fprintln(w, "Connections:  none")
		return
	}
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintln(w, "Connections:")
	for _, id := range ids {
		fmt.Fprintf(w, "  %-10s %s\n", id, str(conns[id]))
	}
}

func printState(w io.Writer, resp map[string]any) {
	fmt.Fprintf(w, "%d: %s\n", num(resp["conversation_id"]), str(resp["state"]))
}

func printOK(w io.Writer, _ map[string]any) {
	fmt.Fprintln(w, "ok")
}

func printDialogs(w io.Writer, resp map[string]any) {
	dialogs := list(resp["dialogs"])
	if len(dialogs) == 0 {
		fmt.Fprintln(w, "No dialogs.")
		return
	}
	for _, d := range dialogs {
		unread := ""
		if n := num(d["unread"]); n > 0 {
			unread = fmt.Sprintf(" (%d)", n)
		}
		fmt.Fprintf(w, "%-8d %-24s %s  %s%s\n",
			num(d["id"]), str(d["name"]), clock(num(d["last_time"])), oneLine(str(d["last_message"])), unread)
	}
}

func printMessages(w io.Writer, resp map[string]any) {
	msgs := list(resp["messages"])
	if resp["has_more"] == true {
		fmt.Fprintln(w, "(older messages available)")
	}
	for _, m := range msgs {
		marks := ""
		if m["edited"] == true {
			marks += " (edited)"
		}
		if reads, _ := m["read_by"].([]any); len(reads) > 0 {
			marks += fmt.Sprintf(" [read by %d]", len(reads))
		}
		fmt.Fprintf(w, "%s  #%-6d %-8d %s%s\n",
			clock(num(m["timestamp"])), num(m["id"]), num(m["sender_id"]), oneLine(str(m["text"])), marks)
	}
}

func printSearch(w io.Writer, resp map[string]any) {
	results := list(resp["results"])
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}
	for _, r := range results {
		fmt.Fprintf(w, "%-8d #%-6d %s  %s\n",
			num(r["conversation_id"]), num(r["id"]), clock(num(r["timestamp"])), oneLine(str(r["snippet"])))
	}
}

func printUser(w io.Writer, resp map[string]any) {
	fmt.Fprintf(w, "ID:       %d\n", num(resp["id"]))
	fmt.Fprintf(w, "Name:     %s\n", str(resp["name"]))
	if u := str(resp["username"]); u != "" {
		fmt.Fprintf(w, "Username: @%s\n", u)
	}
	if p := str(resp["phone"]); p != "" {
		fmt.Fprintf(w, "Phone:    %s\n", p)
	}
	if resp["placeholder"] == true {
		fmt.Fprintln(w, "(profile unavailable)")
	}
}

func printEvent(w io.Writer, evt map[string]any) {
	payload, _ := json.Marshal(evt["payload"])
	fmt.Fprintf(w, "%s %-28s %s\n",
		time.UnixMilli(num(evt["occurred_at_unix_ms"])).Local().Format("15:04:05.000"), str(evt["kind"]), payload)
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:59]) + "…"
	}
	return s
}
