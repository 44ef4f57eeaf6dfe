package httpapi

import (
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// userIDFromQuery parses the required user_id query parameter, writing a 400
// when absent or malformed.
func userIDFromQuery(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		badRequest(w, "user_id query parameter is required")
		return uuid.Nil, false
	}
	return userID, true
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromQuery(w, r)
	if !ok {
		return
	}
	accs, err := s.store.AccountsByUserID(r.Context(), userID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accs))
	for _, a := range accs {
		out = append(out, toAccountResponse(a))
	}
	toJSON(w, http.StatusOK, out)
}

func (s *Server) getAccountBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromQuery(w, r)
	if !ok {
		return
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid account id")
		return
	}
	date := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, err = time.Parse("2006-01-02", raw)
		if err != nil {
			badRequest(w, "date must be YYYY-MM-DD")
			return
		}
	}
	bal, err := s.balanceSvc.BalanceOnDate(r.Context(), userID, accountID, date)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	minor, _ := bal.MinorUnits()
	toJSON(w, http.StatusOK, map[string]any{
		"account_id":    accountID,
		"date":          date.Format("2006-01-02"),
		"balance_minor": minor,
		"currency":      bal.Curr().Code(),
	})
}
