package thread

import (
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/brandon/mail-engine/pkg/types"
)

// Group assigns thread ids, groups headers and returns conversations
// ordered by last message date, newest first.
func Group(headers []*types.EmailHeader) []*types.Conversation {
	byThread := make(map[string][]*types.EmailHeader)
	var order []string
	for _, h := range headers {
		if h == nil {
			continue
		}
		id := ID(h)
		if _, ok := byThread[id]; !ok {
			order = append(order, id)
		}
		byThread[id] = append(byThread[id], h)
	}

	conversations := make([]*types.Conversation, 0, len(order))
	for _, id := range order {
		members := byThread[id]
		SortAscending(members)
		conversations = append(conversations, Summarize(id, members))
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i].LastMessageDate, conversations[j].LastMessageDate
		if a.Equal(b) {
			return conversations[i].ThreadID < conversations[j].ThreadID
		}
		return a.After(b)
	})
	return conversations
}

// Summarize builds conversation aggregates from members sorted ascending by date
func Summarize(threadID string, members []*types.EmailHeader) *types.Conversation {
	conv := &types.Conversation{
		ThreadID:     threadID,
		Messages:     members,
		MessageCount: len(members),
		Participants: []string{},
	}
	if len(members) == 0 {
		return conv
	}

	first, last := members[0], members[len(members)-1]
	conv.Subject = first.Subject
	conv.LastMessageDate = last.Date
	conv.Preview = last.Preview

	var from []string
	for _, m := range members {
		conv.Unread = conv.Unread || m.Unread
		conv.HasAttachments = conv.HasAttachments || m.HasAttachments
		from = append(from, m.From)
	}
	conv.Participants = Participants(from...)
	return conv
}

// SortAscending orders headers by date, oldest first
func SortAscending(headers []*types.EmailHeader) {
	sort.SliceStable(headers, func(i, j int) bool {
		return headers[i].Date.Before(headers[j].Date)
	})
}

// Participants returns the distinct bare addresses found in the given
// address lists, in first-seen order. Lists may be separated by , or ;.
func Participants(lists ...string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, part := range SplitAddresses(list) {
			addr := BareAddress(part)
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

// SplitAddresses splits an address list on commas and semicolons
func SplitAddresses(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// BareAddress extracts the lower-cased address from "Name <addr>" or "addr".
// It returns "" when no address is present.
func BareAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(addr.Address)
	}
	if start, end := strings.LastIndex(s, "<"), strings.LastIndex(s, ">"); start >= 0 && end > start {
		s = s[start+1 : end]
	}
	if !strings.Contains(s, "@") {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s))
}
