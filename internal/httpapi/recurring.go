package httpapi

import (
	"encoding/json"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/reconcile/internal/ledger"
	"github.com/tinoosan/reconcile/internal/service/recurring"
)

func (s *Server) postDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	det, err := s.recurringSvc.Detect(r.Context(), req.UserID, req.TransactionID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toDetectionResponse(det))
}

func (s *Server) postAcceptDetection(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	def, linked, err := s.recurringSvc.AcceptDetection(r.Context(), req.UserID, req.TransactionID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	recurringLinksTotal.Add(float64(linked))
	toJSON(w, http.StatusCreated, acceptDetectionResponse{Definition: toDefinitionResponse(def), Linked: linked})
}

func (s *Server) postDefinition(w http.ResponseWriter, r *http.Request) {
	var req postDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	amount, err := money.NewAmountFromMinorUnits(req.Currency, req.AmountMinor)
	if err != nil {
		badRequest(w, "unknown currency")
		return
	}
	def, err := s.recurringSvc.CreateDefinition(r.Context(), ledger.RecurringDefinition{
		UserID:     req.UserID,
		Name:       req.Name,
		Merchant:   req.Merchant,
		Amount:     amount,
		CategoryID: req.CategoryID,
		Importance: req.Importance,
		Cadence:    req.Cadence,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toDefinitionResponse(def))
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromQuery(w, r)
	if !ok {
		return
	}
	defs, err := s.recurringSvc.ListDefinitions(r.Context(), userID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	out := make([]definitionResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, toDefinitionResponse(d))
	}
	toJSON(w, http.StatusOK, out)
}

func (s *Server) deactivateDefinition(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromQuery(w, r)
	if !ok {
		return
	}
	defID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid definition id")
		return
	}
	unlinked, err := s.recurringSvc.Deactivate(r.Context(), userID, defID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, map[string]int{"unlinked": unlinked})
}

func (s *Server) postMatch(w http.ResponseWriter, r *http.Request) {
	defID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid definition id")
		return
	}
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	res, err := s.recurringSvc.Match(r.Context(), req.UserID, defID, recurring.MatchOptions{
		DescriptionSimilarity: req.DescriptionSimilarity,
		AmountTolerance:       req.AmountTolerance,
		Apply:                 req.Apply,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	recurringLinksTotal.Add(float64(res.Applied))
	toJSON(w, http.StatusOK, toMatchResponse(res))
}
