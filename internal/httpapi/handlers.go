package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
)

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request, userID string) {
	var in models.AccountInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := s.ledger.CreateAccount(r.Context(), userID, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request, userID string) {
	accounts, err := s.ledger.ListAccounts(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request, userID string) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is a mandatory field")
		return
	}

	balance, err := s.ledger.GetBalance(r.Context(), userID, accountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		AccountID string          `json:"account_id"`
		Balance   decimal.Decimal `json:"balance"`
	}{
		AccountID: accountID,
		Balance:   balance,
	})
}

func (s *Server) listAccountTransactions(w http.ResponseWriter, r *http.Request, userID string) {
	accountID := r.PathValue("id")
	if _, err := s.ledger.GetBalance(r.Context(), userID, accountID); err != nil {
		s.fail(w, r, err)
		return
	}
	txs, err := s.ledger.ListAccountTransactions(r.Context(), userID, accountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) setDefaultAccount(w http.ResponseWriter, r *http.Request, userID string) {
	account, err := s.ledger.SetDefaultAccount(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// createTransaction is the only path guarded by the interactive limiter.
func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request, userID string) {
	var in models.TransactionInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	d, err := s.limiter.Protect(r.Context(), userID, 1)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.ResetIn.Seconds())+1))
		s.fail(w, r, fmt.Errorf("%w: too many transactions, try again later", errs.ErrRateLimited))
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

	t, err := s.ledger.CreateTransaction(r.Context(), userID, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request, userID string) {
	t, err := s.ledger.GetTransaction(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTransaction(w http.ResponseWriter, r *http.Request, userID string) {
	var in models.TransactionInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.ledger.UpdateTransaction(r.Context(), userID, r.PathValue("id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) bulkDelete(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	n, err := s.ledger.DeleteTransactions(r.Context(), userID, req.IDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

type budgetView struct {
	models.Budget
	CurrentExpenses decimal.Decimal `json:"current_expenses"`
	PercentageUsed  decimal.Decimal `json:"percentage_used"`
	AccountID       string          `json:"account_id,omitempty"`
}

// getBudget returns the budget with this month's spending on the default
// account. Without a default account the spending is zero.
func (s *Server) getBudget(w http.ResponseWriter, r *http.Request, userID string) {
	b, err := s.ledger.GetBudget(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view := budgetView{Budget: b}
	u, err := s.budgets.Measure(r.Context(), b, s.now())
	switch {
	case err == nil:
		view.CurrentExpenses = u.TotalExpenses
		view.PercentageUsed = u.PercentageUsed.Round(1)
		view.AccountID = u.Account.ID
	case statusFor(err) != http.StatusNotFound:
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) setBudget(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Amount   decimal.Decimal `json:"amount"`
		Email    string          `json:"email"`
		UserName string          `json:"user_name"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.ledger.SetBudget(r.Context(), userID, req.Email, req.UserName, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// scanReceipt returns the classifier's guess for an uploaded image. Nothing
// is booked; the client shows the guess for editing.
func (s *Server) scanReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	if s.classifier == nil {
		writeError(w, http.StatusServiceUnavailable, "receipt scanning is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxReceiptBytes+1<<10)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "a receipt image is required in the file field")
		return
	}
	defer file.Close()

	if header.Size > maxReceiptBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file size should be less than 5MB")
		return
	}
	image, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, errs.Invalid("read receipt: %v", err))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(image)
	}

	guess, err := s.classifier.Classify(r.Context(), image, mimeType)
	if err != nil {
		s.logger.Warn("receipt scan failed", zap.String("user_id", userID), zap.Error(err))
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, guess)
}
