package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	dashTitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	dashSubtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	dashBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	dashHeaderStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	dashRowStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dashOfflineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	dashConnected     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dashConnecting    = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	dashErrorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dashNoticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	dashHintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	dashStatStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
)

func (model *DashboardModel) View() string {
	title := dashTitleStyle.Render("SitePulse")
	subtitle := dashSubtitleStyle.Render("Live visitor presence")

	var statusLine string
	switch {
	case model.isConnected:
		statusLine = dashConnected.Render("● Connected to " + model.serverURL)
	case model.connectionError != nil:
		statusLine = dashErrorStyle.Render(fmt.Sprintf("Disconnected (%v), retrying…", model.connectionError))
	default:
		statusLine = dashConnecting.Render(model.spinner.View() + " Connecting to " + model.serverURL)
	}

	sections := []string{
		lipgloss.JoinHorizontal(lipgloss.Left, title, " ", subtitle),
		statusLine,
		dashBoxStyle.Render(model.renderStats()),
		dashBoxStyle.Render(model.renderVisitorTable()),
	}

	if model.lastNotice != "" {
		sections = append(sections, dashNoticeStyle.Render(model.lastNotice))
	}
	sections = append(sections, dashHintStyle.Render("r refresh • q quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *DashboardModel) renderStats() string {
	summary := fmt.Sprintf("online %d  |  visitors today %d  |  page views %d  |  avg session %ds",
		model.stats.OnlineVisitors, model.stats.TotalVisitors, model.stats.TotalPageViews, model.stats.AverageDuration)

	lines := []string{dashStatStyle.Render(summary)}
	if top := renderTopList("pages", pageNames(model.stats.TopPages)); top != "" {
		lines = append(lines, top)
	}
	if top := renderTopList("countries", countryNames(model.stats.TopCountries)); top != "" {
		lines = append(lines, top)
	}
	if top := renderTopList("referrers", referrerNames(model.stats.TopReferrers)); top != "" {
		lines = append(lines, top)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderTopList(label string, entries []string) string {
	if len(entries) == 0 {
		return ""
	}
	limit := 3
	if len(entries) < limit {
		limit = len(entries)
	}
	return dashSubtitleStyle.Render(fmt.Sprintf("top %s: %s", label, strings.Join(entries[:limit], ", ")))
}

func pageNames(counts []PageCount) []string {
	names := make([]string, 0, len(counts))
	for _, c := range counts {
		names = append(names, fmt.Sprintf("%s (%d)", c.Page, c.Views))
	}
	return names
}

func countryNames(counts []CountryCount) []string {
	names := make([]string, 0, len(counts))
	for _, c := range counts {
		names = append(names, fmt.Sprintf("%s (%d)", c.Country, c.Visitors))
	}
	return names
}

func referrerNames(counts []ReferrerCount) []string {
	names := make([]string, 0, len(counts))
	for _, c := range counts {
		names = append(names, fmt.Sprintf("%s (%d)", c.Referrer, c.Visitors))
	}
	return names
}

func (model *DashboardModel) renderVisitorTable() string {
	if len(model.visitors) == 0 {
		return dashOfflineStyle.Render("No visitors yet.")
	}

	header := dashHeaderStyle.Render(fmt.Sprintf("%-3s %-28s %-20s %-16s %-10s %8s",
		"", "VISITOR", "PAGE", "LOCATION", "BROWSER", "DURATION"))
	rows := []string{header}
	for _, visitor := range model.visitors {
		dot := presenceDot(visitor.IsOnline)
		location := visitor.Country
		if visitor.City != "" && visitor.City != "Unknown" {
			location = visitor.City + ", " + visitor.Country
		}
		line := fmt.Sprintf("%-3s %-28s %-20s %-16s %-10s %7ds",
			dot,
			clip(visitor.ID, 28),
			clip(visitor.CurrentPage, 20),
			clip(location, 16),
			clip(visitor.Browser, 10),
			visitor.Duration)
		if visitor.IsOnline {
			rows = append(rows, dashRowStyle.Render(line))
		} else {
			rows = append(rows, dashOfflineStyle.Render(line))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func presenceDot(online bool) string {
	if online {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("○")
}

func clip(text string, max int) string {
	if len(text) <= max {
		return text
	}
	if max <= 1 {
		return text[:max]
	}
	return text[:max-1] + "…"
}
