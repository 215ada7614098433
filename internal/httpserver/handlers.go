package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"chatdispatch/internal/domain"
	"chatdispatch/internal/sender"
	"chatdispatch/internal/service"
)

type API struct {
	Senders    *sender.Manager
	Campaigns  *service.CampaignService
	Broadcasts *service.BroadcastService
	Bulk       *service.BulkService
	Blocklist  *service.BlocklistService
}

func (a *API) Register(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	// fixed paths before {id}
	v1.HandleFunc("/senders", a.handleListSenders).Methods(http.MethodGet)
	v1.HandleFunc("/senders", a.handleCreateSender).Methods(http.MethodPost)
	v1.HandleFunc("/senders/active", a.handleActiveSenders).Methods(http.MethodGet)
	v1.HandleFunc("/senders/next", a.handleNextSender).Methods(http.MethodGet)
	v1.HandleFunc("/senders/{id}", a.handleGetSender).Methods(http.MethodGet)
	v1.HandleFunc("/senders/{id}", a.handleDeleteSender).Methods(http.MethodDelete)
	v1.HandleFunc("/senders/{id}/stats", a.handleSenderStats).Methods(http.MethodGet)
	v1.HandleFunc("/senders/{id}/status", a.handleSenderStatus).Methods(http.MethodPut)
	v1.HandleFunc("/senders/{id}/connect", a.handleConnectSender).Methods(http.MethodPost)
	v1.HandleFunc("/senders/{id}/qr", a.handleSenderQR).Methods(http.MethodGet)

	v1.HandleFunc("/campaigns", a.handleListCampaigns).Methods(http.MethodGet)
	v1.HandleFunc("/campaigns", a.handleCreateCampaign).Methods(http.MethodPost)
	v1.HandleFunc("/campaigns/{id}", a.handleGetCampaign).Methods(http.MethodGet)
	v1.HandleFunc("/campaigns/{id}", a.handleDeleteCampaign).Methods(http.MethodDelete)
	v1.HandleFunc("/campaigns/{id}/start", a.campaignAction(a.Campaigns.Start, "start campaign")).Methods(http.MethodPost)
	v1.HandleFunc("/campaigns/{id}/pause", a.campaignAction(a.Campaigns.Pause, "pause campaign")).Methods(http.MethodPost)
	v1.HandleFunc("/campaigns/{id}/resume", a.campaignAction(a.Campaigns.Resume, "resume campaign")).Methods(http.MethodPost)
	v1.HandleFunc("/campaigns/{id}/stats", a.handleCampaignStats).Methods(http.MethodGet)
	v1.HandleFunc("/contacts/{id}/status", a.handleContactStatus).Methods(http.MethodPut)

	v1.HandleFunc("/messages/bulk", a.handleBulkSend).Methods(http.MethodPost)
	v1.HandleFunc("/broadcasts", a.handleListBroadcasts).Methods(http.MethodGet)
	v1.HandleFunc("/broadcasts", a.handleCreateBroadcast).Methods(http.MethodPost)
	v1.HandleFunc("/broadcasts/{id}", a.handleGetBroadcast).Methods(http.MethodGet)
	v1.HandleFunc("/broadcasts/{id}", a.handleDeleteBroadcast).Methods(http.MethodDelete)
	v1.HandleFunc("/broadcasts/{id}/send", a.handleSendBroadcast).Methods(http.MethodPost)

	v1.HandleFunc("/blocklist", a.handleListBlocked).Methods(http.MethodGet)
	v1.HandleFunc("/blocklist", a.handleAddBlocked).Methods(http.MethodPost)
	v1.HandleFunc("/blocklist/{phone}", a.handleRemoveBlocked).Methods(http.MethodDelete)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	id := strings.TrimSpace(mux.Vars(r)[key])
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// senders

func (a *API) handleListSenders(w http.ResponseWriter, r *http.Request) {
	out, err := a.Senders.List(r.Context())
	if err != nil {
		writeError(w, r, "list senders", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateSender(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSenderRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := a.Senders.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, "create sender", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) handleActiveSenders(w http.ResponseWriter, r *http.Request) {
	out, err := a.Senders.Active(r.Context())
	if err != nil {
		writeError(w, r, "active senders", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleNextSender previews the selector. ?senderIds=a,b restricts the pool.
func (a *API) handleNextSender(w http.ResponseWriter, r *http.Request) {
	var allow []string
	if raw := r.URL.Query().Get("senderIds"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				allow = append(allow, id)
			}
		}
	}
	s, err := a.Senders.NextHealthySender(r.Context(), allow)
	if err != nil {
		writeError(w, r, "next sender", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleGetSender(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s, err := a.Senders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, "get sender", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleDeleteSender(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.Senders.Delete(r.Context(), id); err != nil {
		writeError(w, r, "delete sender", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSenderStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	st, err := a.Senders.Stats(r.Context(), id)
	if err != nil {
		writeError(w, r, "sender stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleSenderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status domain.SenderStatus `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	s, err := a.Senders.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, r, "update sender status", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleConnectSender(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.Senders.Connect(r.Context(), id); err != nil {
		writeError(w, r, "connect sender", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "connecting"})
}

func (a *API) handleSenderQR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	qr, err := a.Senders.QRCode(r.Context(), id)
	if err != nil {
		writeError(w, r, "sender qr", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "qr": qr})
}

// campaigns

func (a *API) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	out, err := a.Campaigns.List(r.Context())
	if err != nil {
		writeError(w, r, "list campaigns", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCampaignRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := a.Campaigns.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, "create campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := a.Campaigns.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, "get campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.Campaigns.Delete(r.Context(), id); err != nil {
		writeError(w, r, "delete campaign", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) campaignAction(fn func(ctx context.Context, id string) (domain.Campaign, error), op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		c, err := fn(r.Context(), id)
		if err != nil {
			writeError(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func (a *API) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	st, err := a.Campaigns.Stats(r.Context(), id)
	if err != nil {
		writeError(w, r, "campaign stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleContactStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status domain.ContactStatus `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	ct, err := a.Campaigns.UpdateContactStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, r, "update contact status", err)
		return
	}
	writeJSON(w, http.StatusOK, ct)
}
