// Package notify delivers notifications by email, to a Discord channel or to
// the log. Bodies are written in markdown and converted to HTML for email.
package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/budget"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

// Message is a rendered notification.
type Message struct {
	Subject  string
	Markdown string
	HTML     string
}

var budgetAlertTmpl = template.Must(template.New(budget.TemplateBudgetAlert).Parse(`## Budget Alert

Hello {{.UserName}},

You've used **{{.Percent}}%** of your monthly budget on *{{.AccountName}}*.

| Item | Amount |
|---|---|
| Budget Amount | {{.Budget}} |
| Spent So Far | {{.Spent}} |
| Remaining | {{.Remaining}} |
`))

type budgetAlertView struct {
	UserName    string
	AccountName string
	Percent     string
	Budget      string
	Spent       string
	Remaining   string
}

// Renderer turns notifications into markdown and HTML bodies with amounts
// formatted in one currency.
type Renderer struct {
	currency string
	md       goldmark.Markdown
}

func NewRenderer(currency string) (*Renderer, error) {
	if money.GetCurrency(currency) == nil {
		return nil, errs.Invalid("unknown currency %q", currency)
	}
	return &Renderer{currency: currency, md: goldmark.New(goldmark.WithExtensions(extension.Table))}, nil
}

// FormatAmount formats amount in the renderer's currency, rounded to the
// currency's minor unit.
func (r *Renderer) FormatAmount(amount decimal.Decimal) string {
	cur := money.GetCurrency(r.currency)
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, r.currency).Display()
}

func (r *Renderer) Render(n interfaces.Notification) (Message, error) {
	var body bytes.Buffer
	switch n.TemplateType {
	case budget.TemplateBudgetAlert:
		view, err := r.budgetAlert(n.TemplateData)
		if err != nil {
			return Message{}, err
		}
		if err := budgetAlertTmpl.Execute(&body, view); err != nil {
			return Message{}, fmt.Errorf("render %s: %w", n.TemplateType, err)
		}
	default:
		return Message{}, errs.Invalid("unknown template type %q", n.TemplateType)
	}

	var html bytes.Buffer
	if err := r.md.Convert(body.Bytes(), &html); err != nil {
		return Message{}, fmt.Errorf("convert %s to html: %w", n.TemplateType, err)
	}
	return Message{Subject: n.Subject, Markdown: body.String(), HTML: html.String()}, nil
}

func (r *Renderer) budgetAlert(data map[string]any) (budgetAlertView, error) {
	percent, err := decimalField(data, budget.KeyPercentageUsed)
	if err != nil {
		return budgetAlertView{}, err
	}
	amount, err := decimalField(data, budget.KeyBudgetAmount)
	if err != nil {
		return budgetAlertView{}, err
	}
	spent, err := decimalField(data, budget.KeyTotalExpenses)
	if err != nil {
		return budgetAlertView{}, err
	}

	userName, _ := data[budget.KeyUserName].(string)
	if userName == "" {
		userName = "User"
	}
	accountName, _ := data[budget.KeyAccountName].(string)

	return budgetAlertView{
		UserName:    userName,
		AccountName: accountName,
		Percent:     percent.StringFixed(1),
		Budget:      r.FormatAmount(amount),
		Spent:       r.FormatAmount(spent),
		Remaining:   r.FormatAmount(amount.Sub(spent)),
	}, nil
}

func decimalField(data map[string]any, key string) (decimal.Decimal, error) {
	switch v := data[key].(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, errs.Invalid("%s: %v", key, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case nil:
		return decimal.Zero, errs.Invalid("missing %s", key)
	default:
		return decimal.Zero, errs.Invalid("%s has type %T", key, v)
	}
}
