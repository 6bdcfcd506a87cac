package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/scamazon/storefront/internal/api"
	"github.com/scamazon/storefront/internal/chat"
	"github.com/scamazon/storefront/internal/realtime"
)

const timeLayout = "2006-01-02 15:04"

func formatMessage(m chat.Message) string {
	who := m.SenderName
	if who == "" {
		who = fmt.Sprintf("#%d", m.SenderID)
	}
	if m.SenderRole != "" {
		who = fmt.Sprintf("%s (%s)", who, m.SenderRole)
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format(timeLayout), who, m.Summary())
}

func formatRoom(r chat.Room) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d  ", r.ID)
	switch {
	case r.StoreName != "" && r.CustomerName != "":
		fmt.Fprintf(&b, "%s / %s", r.CustomerName, r.StoreName)
	case r.StoreName != "":
		b.WriteString(r.StoreName)
	default:
		b.WriteString(r.CustomerName)
	}
	if r.UnreadCount > 0 {
		fmt.Fprintf(&b, "  (%d unread)", r.UnreadCount)
	}
	if r.LastMessage != "" {
		fmt.Fprintf(&b, "\n        %s", r.LastMessage)
		if !r.LastMessageAt.IsZero() {
			fmt.Fprintf(&b, "  %s", r.LastMessageAt.Local().Format(timeLayout))
		}
	}
	return b.String()
}

func formatNotification(n api.Notification) string {
	mark := " "
	if !n.IsRead {
		mark = "*"
	}
	line := fmt.Sprintf("%s %5d  %s", mark, n.ID, n.Title)
	if n.Message != "" {
		line += ": " + n.Message
	}
	if !n.CreatedAt.IsZero() {
		line += "  " + n.CreatedAt.Local().Format(timeLayout)
	}
	return line
}

func formatAppEvent(ev realtime.AppEvent) string {
	return fmt.Sprintf("[%s] %s", ev.ReceivedAt.Local().Format(time.TimeOnly), ev.Kind)
}
