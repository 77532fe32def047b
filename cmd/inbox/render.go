package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"go-foodie/internal/chat"
	"go-foodie/internal/inbox"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const previewLen = 40

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func renderConversations(w io.Writer, view inbox.View) {
	table := newTable(w, []string{"Conversation", "With", "Last message", "At", "Unread"})
	for _, c := range view.Conversations {
		with := lo.Map(c.Participants, func(p chat.Participant, _ int) string { return shortID(p.UserID) })
		last, at := "", ""
		if c.LastMessage != nil {
			last = preview(c.LastMessage.Content)
			at = c.LastMessage.CreatedAt.Local().Format("Jan 2 15:04")
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = color.Cyan.Sprint(strconv.Itoa(c.UnreadCount))
		}
		table.Append([]string{c.Conversation.ID.String(), strings.Join(with, ","), last, at, unread})
	}
	table.Render()
	fmt.Fprintf(w, "\n%d unread\n", view.TotalUnread)
}

func renderNotifications(w io.Writer, view inbox.NotificationsView) {
	table := newTable(w, []string{"", "Type", "From", "At", "Payload"})
	for _, n := range view.Items {
		marker := ""
		if !n.Read {
			marker = color.Cyan.Sprint("*")
		}
		from := ""
		if n.SenderID != nil {
			from = shortID(*n.SenderID)
		}
		table.Append([]string{marker, string(n.Type), from, n.CreatedAt.Local().Format("Jan 2 15:04"), preview(string(n.Payload))})
	}
	table.Render()
	fmt.Fprintf(w, "\n%d unread%s\n", view.UnreadCount, lo.Ternary(view.HasMore, ", more on the server", ""))
}

func printMessage(w io.Writer, self uuid.UUID, m chat.Message) {
	at := m.CreatedAt.Local().Format("15:04:05")
	if m.SenderID != self {
		fmt.Fprintf(w, "%s %s: %s\n", at, color.Magenta.Sprint(shortID(m.SenderID)), m.Content)
		return
	}
	fmt.Fprintf(w, "%s %s: %s %s\n", at, color.Green.Sprint("me"), m.Content, statusMark(m.Status()))
}

func statusMark(s chat.Status) string {
	switch s {
	case chat.StatusRead:
		return color.Blue.Sprint("✓✓")
	case chat.StatusDelivered:
		return color.FgDarkGray.Sprint("✓✓")
	default:
		return color.FgDarkGray.Sprint("✓")
	}
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > previewLen {
		return string(r[:previewLen-1]) + "…"
	}
	return s
}
