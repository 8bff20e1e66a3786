// Package classifier reads receipt images with Gemini. Its guesses are
// suggestions shown to the user and never booked automatically.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

const DefaultModel = "gemini-2.5-flash"

// Categories a guess may suggest; anything else is reported as other-expense.
var Categories = []string{
	"housing", "transportation", "groceries", "utilities", "entertainment",
	"food", "shopping", "healthcare", "education", "personal", "travel",
	"insurance", "gifts", "bills", "other-expense",
}

const promptTemplate = `Analyze this receipt image and extract the following information in JSON format:
- Total amount (just the number). If the currency is not %[1]s, convert it to %[1]s using the current exchange rate.
- Date (in ISO format)
- Description or items purchased (brief summary)
- Merchant/store name
- Suggested category (one of: %[2]s)

Only respond with valid JSON in this exact format:
{"amount": number, "date": "ISO date string", "description": "string", "merchantName": "string", "category": "string"}

If it is not a receipt, return an empty object.`

var fence = regexp.MustCompile("```(?:json|JSON)?\\n?")

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements interfaces.ReceiptClassifier.
type Gemini struct {
	models   contentGenerator
	model    string
	currency string
	timeout  time.Duration
}

func NewGemini(ctx context.Context, apiKey, model, currency string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errs.Invalid("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{models: client.Models, model: model, currency: currency, timeout: 30 * time.Second}, nil
}

func (g *Gemini) Classify(ctx context.Context, image []byte, mimeType string) (interfaces.ReceiptGuess, error) {
	if len(image) == 0 {
		return interfaces.ReceiptGuess{}, errs.Invalid("empty receipt image")
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return interfaces.ReceiptGuess{}, errs.Invalid("unsupported receipt type %q", mimeType)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf(promptTemplate, g.currency, strings.Join(Categories, ","))
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return interfaces.ReceiptGuess{}, fmt.Errorf("scan receipt: %w: %w", errs.ErrExternalDispatchFailed, err)
	}
	return ParseGuess(resp.Text())
}

type rawGuess struct {
	Amount       *decimal.Decimal `json:"amount"`
	Date         string           `json:"date"`
	Description  string           `json:"description"`
	MerchantName string           `json:"merchantName"`
	Category     string           `json:"category"`
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly}

// ParseGuess decodes a model reply, tolerating markdown code fences. An
// empty object is an empty guess.
func ParseGuess(text string) (interfaces.ReceiptGuess, error) {
	cleaned := strings.TrimSpace(fence.ReplaceAllString(text, ""))
	if cleaned == "" {
		return interfaces.ReceiptGuess{}, nil
	}

	var raw rawGuess
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return interfaces.ReceiptGuess{}, fmt.Errorf("failed to parse AI response as JSON: %w: %w", errs.ErrExternalDispatchFailed, err)
	}

	guess := interfaces.ReceiptGuess{
		Description:  strings.TrimSpace(raw.Description),
		MerchantName: strings.TrimSpace(raw.MerchantName),
		Category:     normalizeCategory(raw.Category),
	}
	if raw.Amount != nil {
		guess.Amount = raw.Amount.Abs()
	}
	if raw.Date != "" {
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, raw.Date); err == nil {
				guess.Date = d
				break
			}
		}
	}
	return guess, nil
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return ""
	}
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return "other-expense"
}

var _ interfaces.ReceiptClassifier = (*Gemini)(nil)
