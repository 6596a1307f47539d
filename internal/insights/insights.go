// Package insights is the AI collaborator: monthly financial insight text
// and receipt field extraction via Gemini. Model output is best-effort; any
// malformed or missing response degrades to fixed fallback values and never
// fails the caller.
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/genai"

	"tally/internal/core"
)

const DefaultModel = "gemini-1.5-flash"

// fallbackInsights is returned whenever the model call or its output fails.
var fallbackInsights = []string{
	"Your highest expense category this month might need attention.",
	"Consider setting up a budget for better financial management.",
	"Track your recurring expenses to identify potential savings.",
}

// Stats is one month of a user's aggregated activity.
type Stats struct {
	TotalIncome      core.Money
	TotalExpenses    core.Money
	ByCategory       map[string]core.Money
	TransactionCount int
}

type Service struct {
	client *genai.Client
	model  string
}

func NewService(ctx context.Context, apiKey, model string) (*Service, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Service{client: client, model: model}, nil
}

// GenerateMonthlyInsights returns three short insight strings for the
// month's stats, or the fixed fallback set when the model is unavailable or
// returns something unusable.
func (s *Service) GenerateMonthlyInsights(ctx context.Context, stats Stats, monthName string) []string {
	if s == nil || s.client == nil {
		return fallbackInsights
	}

	prompt := buildInsightsPrompt(stats, monthName)
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		slog.WarnContext(ctx, "Insight generation failed, using fallback", "error", err)
		return fallbackInsights
	}

	insights, err := parseInsights(resp.Text())
	if err != nil {
		slog.WarnContext(ctx, "Unusable insight response, using fallback", "error", err)
		return fallbackInsights
	}
	return insights
}

func buildInsightsPrompt(stats Stats, monthName string) string {
	net := core.Money{Cents: stats.TotalIncome.Cents - stats.TotalExpenses.Cents}

	categories := make([]string, 0, len(stats.ByCategory))
	for name := range stats.ByCategory {
		categories = append(categories, name)
	}
	sort.Strings(categories)
	var byCat strings.Builder
	for i, name := range categories {
		if i > 0 {
			byCat.WriteString(", ")
		}
		fmt.Fprintf(&byCat, "%s: %s", name, stats.ByCategory[name])
	}

	return fmt.Sprintf(`Analyze this financial data and provide 3 concise, actionable insights.
Focus on spending patterns and practical advice.
Keep it friendly and conversational.

Financial Data for %s:
- Total Income: %s
- Total Expenses: %s
- Net Income: %s
- Expense Categories: %s

Format the response as a JSON array of strings, like this:
["insight 1", "insight 2", "insight 3"]`,
		monthName, stats.TotalIncome, stats.TotalExpenses, net, byCat.String())
}

// parseInsights decodes the model's JSON array, tolerating the code fences
// models add despite instructions.
func parseInsights(text string) ([]string, error) {
	clean := cleanModelJSON(text)
	if clean == "" {
		return nil, fmt.Errorf("empty model response")
	}
	var insights []string
	if err := json.Unmarshal([]byte(clean), &insights); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}
	if len(insights) == 0 {
		return nil, fmt.Errorf("no insights in response")
	}
	return insights, nil
}

// cleanModelJSON strips Markdown code fences and surrounding noise from a
// model response that should have been raw JSON.
func cleanModelJSON(text string) string {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}
