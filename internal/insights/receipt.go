package insights

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"tally/internal/core"
)

// ReceiptData is the best-effort extraction from a receipt image. Zero
// values mean the field could not be determined; callers treat an all-zero
// result as "not a receipt".
type ReceiptData struct {
	Amount       core.Money
	Date         time.Time
	Description  string
	MerchantName string
	Category     string
}

const receiptPrompt = `Analyze this receipt image and extract the following information in JSON format:
- Total amount (just the number)
- Date (in ISO format)
- Description or items purchased (brief summary)
- Merchant/store name
- Suggested category (one of: housing,transportation,groceries,utilities,entertainment,food,shopping,healthcare,education,personal,travel,insurance,gifts,bills,other-expense)

Only respond with valid JSON in this exact format:
{
  "amount": number,
  "date": "ISO date string",
  "description": "string",
  "merchantName": "string",
  "category": "string"
}

If it is not a receipt, return an empty object.`

// ScanReceipt sends a receipt image to the model and extracts structured
// fields. Every failure path degrades to an empty ReceiptData; receipt
// scanning is auxiliary and must never fail the transaction flow it feeds.
func (s *Service) ScanReceipt(ctx context.Context, image []byte, mimeType string) ReceiptData {
	if s == nil || s.client == nil {
		return ReceiptData{}
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
				{Text: receiptPrompt},
			},
		},
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		slog.WarnContext(ctx, "Receipt scan failed, returning empty result", "error", err)
		return ReceiptData{}
	}

	data, err := parseReceiptJSON(resp.Text())
	if err != nil {
		slog.WarnContext(ctx, "Unusable receipt response, returning empty result", "error", err)
		return ReceiptData{}
	}
	return data
}

type receiptPayload struct {
	Amount       json.Number `json:"amount"`
	Date         string      `json:"date"`
	Description  string      `json:"description"`
	MerchantName string      `json:"merchantName"`
	Category     string      `json:"category"`
}

func parseReceiptJSON(text string) (ReceiptData, error) {
	clean := cleanModelJSON(text)
	var payload receiptPayload
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return ReceiptData{}, err
	}

	var data ReceiptData
	if payload.Amount != "" {
		if d, err := decimal.NewFromString(payload.Amount.String()); err == nil && d.IsPositive() {
			data.Amount = core.Money{Cents: d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()}
		}
	}
	if payload.Date != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, payload.Date); err == nil {
				data.Date = ts
				break
			}
		}
	}
	data.Description = payload.Description
	data.MerchantName = payload.MerchantName
	data.Category = payload.Category
	return data, nil
}
