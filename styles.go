package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/stegofed/domain"
)

const (
	COLOR_GREY      = "241"
	COLOR_MAGENTA   = "170"
	COLOR_LIGHTBLUE = "69"
	COLOR_PURPLE    = "#7D56F4"
)

var (
	HelpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_GREY))
	CaptionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_MAGENTA)).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_GREY)).Width(14)
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_LIGHTBLUE))
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(COLOR_PURPLE)).
			Padding(0, 1)
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
}

// renderActor formats an actor as a bordered card.
func renderActor(actor *domain.Actor) string {
	rows := []string{
		CaptionStyle.Render("@" + actor.Acct()),
		row("id", actor.ID),
		row("type", actor.Type),
		row("inbox", actor.Inbox),
	}
	if actor.DisplayName != "" {
		rows = append(rows, row("name", actor.DisplayName))
	}
	if actor.SharedInbox != "" {
		rows = append(rows, row("shared inbox", actor.SharedInbox))
	}
	rows = append(rows, row("local", fmt.Sprintf("%t", actor.Local)))
	return panelStyle.Render(strings.Join(rows, "\n"))
}

func renderFollow(f *domain.Follow) string {
	return panelStyle.Render(strings.Join([]string{
		CaptionStyle.Render("follow"),
		row("from", f.ActorID),
		row("to", f.TargetActorID),
		row("state", string(f.State)),
	}, "\n"))
}

func renderObject(obj *domain.Object) string {
	return panelStyle.Render(strings.Join([]string{
		CaptionStyle.Render(obj.Type),
		row("id", obj.ID),
		row("content", obj.Properties.String("content")),
	}, "\n"))
}

func renderNotification(n *domain.Notification) string {
	rows := []string{
		CaptionStyle.Render(string(n.Type)),
		row("from", n.FromActorID),
	}
	if n.ObjectID != "" {
		rows = append(rows, row("object", n.ObjectID))
	}
	rows = append(rows, row("at", n.CreatedAt.Format(time.RFC3339)))
	return panelStyle.Render(strings.Join(rows, "\n"))
}
