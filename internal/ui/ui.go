// Package ui renders the session's terminal output: status lines, errors,
// and the roster table.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/lowkeylabs/huddle/internal/model"
	"github.com/lowkeylabs/huddle/internal/peer"
)

// Color palette
var (
	Primary = lipgloss.Color("#22d3ee") // Cyan
	Success = lipgloss.Color("#10B981") // Emerald
	Warning = lipgloss.Color("#F59E0B") // Amber
	Error   = lipgloss.Color("#EF4444") // Red
	Muted   = lipgloss.Color("#6B7280") // Gray
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			MarginBottom(1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)
)

func PrintTitle(msg string)   { fmt.Println(TitleStyle.Render(msg)) }
func PrintSuccess(msg string) { fmt.Println(SuccessStyle.Render("✓ " + msg)) }
func PrintError(msg string)   { fmt.Println(ErrorStyle.Render("✗ " + msg)) }
func PrintWarning(msg string) { fmt.Println(WarningStyle.Render("! " + msg)) }
func PrintStatus(msg string)  { fmt.Println(MutedStyle.Render("· " + msg)) }

// RosterTable renders the room's roster with per-peer connection status.
// selfID marks the local participant; states come from the supervisor.
func RosterTable(room *model.Room, selfID string, states map[string]peer.State) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Role", "Mic", "Cam", "Screen", "Link"})

	for _, p := range room.Participants {
		link := "—"
		if p.ID == selfID {
			link = "self"
		} else if st, ok := states[p.ID]; ok {
			link = string(st)
		}
		t.AppendRow(table.Row{
			p.Name,
			string(p.Role),
			onOff(p.AudioEnabled),
			onOff(p.VideoEnabled),
			onOff(p.ScreenSharing),
			link,
		})
	}
	return t.Render()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
