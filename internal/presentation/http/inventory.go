package httppresentation

import (
	"net/http"
	"time"

	domainInventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
)

type reserveRequest struct {
	OrderID string                 `json:"orderId"`
	Items   []domainInventory.Line `json:"items"`
}

type reserveResponse struct {
	ReservationID string `json:"reservationId"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type releaseOrderResponse struct {
	Released int `json:"released"`
}

type reservationView struct {
	ID        string                            `json:"id"`
	OrderID   string                            `json:"orderId,omitempty"`
	Status    domainInventory.ReservationStatus `json:"status"`
	Items     []domainInventory.Line            `json:"items"`
	CreatedAt time.Time                         `json:"createdAt"`
	UpdatedAt time.Time                         `json:"updatedAt"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeProblem(w, r, newProblem(r, http.StatusBadRequest, reasonValidation, err.Error()))
		return
	}
	id, err := h.deps.Inventory.Reserve(r.Context(), req.OrderID, req.Items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusCreated, reserveResponse{ReservationID: id})
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	ok, err := h.deps.Inventory.Commit(r.Context(), r.PathValue("id"))
	h.writeResolution(w, r, ok, err)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	ok, err := h.deps.Inventory.Release(r.Context(), r.PathValue("id"))
	h.writeResolution(w, r, ok, err)
}

// handleReleaseOrder always answers 200; released is 0 when the order holds nothing.
func (h *Handler) handleReleaseOrder(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Inventory.ReleaseOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, releaseOrderResponse{Released: n})
}

// writeResolution answers commit/release: unknown or already resolved ids are 404 {ok:false}.
func (h *Handler) writeResolution(w http.ResponseWriter, r *http.Request, ok bool, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	h.writeJSON(r.Context(), w, status, okResponse{OK: ok})
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Inventory.Reservation(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, reservationView{
		ID:        res.ID,
		OrderID:   res.OrderID,
		Status:    res.Status,
		Items:     res.Lines,
		CreatedAt: res.CreatedAt,
		UpdatedAt: res.UpdatedAt,
	})
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	lvl, err := h.deps.Inventory.Stock(r.Context(), r.PathValue("sku"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, lvl)
}
