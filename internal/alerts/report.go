package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/insights"
	"tally/internal/notify"
	"tally/internal/storage"
)

// ReportStore is the slice of the read model the monthly report needs.
// *storage.Queries satisfies it.
type ReportStore interface {
	ListUsers(ctx context.Context) ([]core.User, error)
	GetMonthlyStats(ctx context.Context, userID string, from, to time.Time) (storage.MonthlyStats, error)
}

// InsightGenerator produces the report's insight strings. Implementations
// degrade to fixed fallback text on failure; this call never errors.
type InsightGenerator interface {
	GenerateMonthlyInsights(ctx context.Context, stats insights.Stats, monthName string) []string
}

// MonthlyReporter emails every user a summary of last month's activity with
// AI-generated insight text. A failed email is logged and skipped; the next
// monthly run covers a different month, so there is no replay.
type MonthlyReporter struct {
	store  ReportStore
	ai     InsightGenerator
	sender notify.Sender
}

func NewMonthlyReporter(store ReportStore, ai InsightGenerator, sender notify.Sender) *MonthlyReporter {
	return &MonthlyReporter{store: store, ai: ai, sender: sender}
}

// Run generates and sends one report per user for the month before now.
func (r *MonthlyReporter) Run(ctx context.Context, now time.Time) (int, error) {
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return 0, err
	}

	start, end := core.MonthBounds(now.AddDate(0, -1, 0))
	monthName := start.Format("January")

	sent := 0
	for _, user := range users {
		raw, err := r.store.GetMonthlyStats(ctx, user.ID, start, end)
		if err != nil {
			slog.ErrorContext(ctx, "Monthly stats failed", "user_id", user.ID, "error", err)
			continue
		}

		stats := toInsightStats(raw)
		insightText := r.ai.GenerateMonthlyInsights(ctx, stats, monthName)

		msg := notify.Message{
			To:      user.Email,
			Subject: fmt.Sprintf("Your Monthly Financial Report - %s", monthName),
			HTML:    monthlyReportHTML(user.Name, monthName, stats, insightText),
		}
		if err := r.sender.Send(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Monthly report send failed", "user_id", user.ID, "error", err)
			continue
		}
		sent++
	}

	slog.InfoContext(ctx, "Monthly reports processed", "users", len(users), "sent", sent)
	return sent, nil
}

func toInsightStats(raw storage.MonthlyStats) insights.Stats {
	byCategory := make(map[string]core.Money, len(raw.ByCategoryCents))
	for name, cents := range raw.ByCategoryCents {
		byCategory[name] = core.Money{Cents: cents}
	}
	return insights.Stats{
		TotalIncome:      core.Money{Cents: raw.TotalIncomeCents},
		TotalExpenses:    core.Money{Cents: raw.TotalExpenseCents},
		ByCategory:       byCategory,
		TransactionCount: raw.TransactionCount,
	}
}

func monthlyReportHTML(userName, monthName string, stats insights.Stats, insightText []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Financial Report for %s</h2>\n", monthName)
	fmt.Fprintf(&b, "<p>Hi %s,</p>\n", userName)
	fmt.Fprintf(&b, "<ul>\n  <li>Total Income: %s</li>\n  <li>Total Expenses: %s</li>\n", stats.TotalIncome, stats.TotalExpenses)
	net := core.Money{Cents: stats.TotalIncome.Cents - stats.TotalExpenses.Cents}
	fmt.Fprintf(&b, "  <li>Net: %s</li>\n</ul>\n", net)

	if len(stats.ByCategory) > 0 {
		categories := make([]string, 0, len(stats.ByCategory))
		for name := range stats.ByCategory {
			categories = append(categories, name)
		}
		sort.Strings(categories)
		b.WriteString("<h3>Expenses by Category</h3>\n<ul>\n")
		for _, name := range categories {
			fmt.Fprintf(&b, "  <li>%s: %s</li>\n", name, stats.ByCategory[name])
		}
		b.WriteString("</ul>\n")
	}

	b.WriteString("<h3>Insights</h3>\n<ul>\n")
	for _, insight := range insightText {
		fmt.Fprintf(&b, "  <li>%s</li>\n", insight)
	}
	b.WriteString("</ul>\n")
	return b.String()
}
