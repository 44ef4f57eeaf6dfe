package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/tinoosan/reconcile/internal/service/importer"
)

func (s *Server) postImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	res, err := s.importerSvc.Import(r.Context(), importer.Request{
		UserID:  req.UserID,
		Account: req.Account,
		Mapping: req.Mapping.toMapping(),
		Feed:    importer.Feed{Headers: req.Headers, Rows: req.Rows},
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	observeImport(res.Created, res.Updated, res.Rejected)
	toJSON(w, http.StatusOK, importResponse{
		AccountsSynced: res.AccountsSynced,
		Created:        res.Created,
		Updated:        res.Updated,
		Rejected:       res.Rejected,
		Message:        res.Message,
	})
}
