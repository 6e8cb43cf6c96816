package httppresentation

import (
	"net/http"

	domainPayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

// handleAuthorize answers 200 for both approvals and declines; only the status field differs.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req domainPayment.AuthorizeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeProblem(w, r, newProblem(r, http.StatusBadRequest, reasonValidation, err.Error()))
		return
	}
	req.IdempotencyKey = r.Header.Get(headerIdempotencyKey)

	auth, err := h.deps.Payments.Execute(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, auth)
}
