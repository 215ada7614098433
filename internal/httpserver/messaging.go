package httpserver

import (
	"net/http"

	"chatdispatch/internal/domain"
)

func (a *API) handleBulkSend(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkSendRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.Bulk.Send(r.Context(), req)
	if err != nil {
		writeError(w, r, "bulk send", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	out, err := a.Broadcasts.List(r.Context())
	if err != nil {
		writeError(w, r, "list broadcasts", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBroadcastRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.Broadcasts.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, "create broadcast", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	l, err := a.Broadcasts.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, "get broadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) handleDeleteBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.Broadcasts.Delete(r.Context(), id); err != nil {
		writeError(w, r, "delete broadcast", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSendBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if !decode(w, r, &req) {
		return
	}
	// a partial result is still reported when the request is cancelled mid-way
	out, err := a.Broadcasts.Send(r.Context(), id, req.Message)
	if err != nil && out.GroupsSent == 0 {
		writeError(w, r, "send broadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	out, err := a.Blocklist.List(r.Context())
	if err != nil {
		writeError(w, r, "list blocklist", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAddBlocked(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string                 `json:"phoneNumber"`
		Reason      domain.BlocklistReason `json:"reason"`
		Notes       string                 `json:"notes"`
	}
	if !decode(w, r, &req) {
		return
	}
	e, err := a.Blocklist.Add(r.Context(), req.PhoneNumber, req.Reason, req.Notes)
	if err != nil {
		writeError(w, r, "add blocklist", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) handleRemoveBlocked(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathID(w, r, "phone")
	if !ok {
		return
	}
	if err := a.Blocklist.Remove(r.Context(), phone); err != nil {
		writeError(w, r, "remove blocklist", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
