package httpapi

import (
	"encoding/json"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) postGroup(w http.ResponseWriter, r *http.Request) {
	var req postGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	view, err := s.linkSvc.CreateGroup(r.Context(), req.UserID, req.PrimaryID, req.TransactionIDs, req.Role)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toGroupResponse(view))
}

func (s *Server) postBulkLink(w http.ResponseWriter, r *http.Request) {
	var req bulkLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	view, err := s.linkSvc.BulkLink(r.Context(), req.UserID, req.TransactionIDs)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toGroupResponse(view))
}

func (s *Server) postMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		badRequest(w, "invalid group id")
		return
	}
	var req postMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	view, err := s.linkSvc.AddMember(r.Context(), req.UserID, groupID, req.TransactionID, req.Role)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toGroupResponse(view))
}

func (s *Server) deleteMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromQuery(w, r)
	if !ok {
		return
	}
	txnID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		badRequest(w, "invalid transaction id")
		return
	}
	view, alive, err := s.linkSvc.RemoveMember(r.Context(), userID, txnID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if !alive {
		toJSON(w, http.StatusOK, map[string]bool{"dissolved": true})
		return
	}
	toJSON(w, http.StatusOK, toGroupResponse(view))
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromQuery(w, r)
	if !ok {
		return
	}
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		badRequest(w, "invalid group id")
		return
	}
	if err := s.linkSvc.Dissolve(r.Context(), userID, groupID); err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, map[string]bool{"dissolved": true})
}

func (s *Server) getGroupByTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromQuery(w, r)
	if !ok {
		return
	}
	txnID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid transaction id")
		return
	}
	view, linked, err := s.linkSvc.Group(r.Context(), userID, txnID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if !linked {
		toJSON(w, http.StatusOK, map[string]bool{"linked": false})
		return
	}
	toJSON(w, http.StatusOK, toGroupResponse(view))
}
