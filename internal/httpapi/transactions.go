package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/reconcile/internal/ledger"
)

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromQuery(w, r)
	if !ok {
		return
	}
	q := ledger.TransactionQuery{UserID: userID}
	qs := r.URL.Query()
	if raw := qs.Get("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, "invalid account_id")
			return
		}
		q.AccountID = id
	}
	if raw := qs.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			badRequest(w, "from must be YYYY-MM-DD")
			return
		}
		q.From = &t
	}
	if raw := qs.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			badRequest(w, "to must be YYYY-MM-DD")
			return
		}
		q.To = &t
	}
	if qs.Get("unlinked_recurring") == "true" {
		q.UnlinkedRecurring = true
	}
	if qs.Get("expenses_only") == "true" {
		q.ExpensesOnly = true
	}
	if raw := qs.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "invalid limit")
			return
		}
		q.Limit = n
	}
	txns, err := s.store.Transactions(r.Context(), q)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toTransactionResponses(txns))
}
