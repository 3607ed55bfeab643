package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"selfray/internal/auth"
	"selfray/internal/models"
	"selfray/internal/sharelink"
	"selfray/internal/storage"
	"selfray/internal/xray"
)

func inboundID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type inboundView struct {
	models.Inbound
	Clients []models.Client `json:"clients"`
}

func (s *Server) inboundWithClients(inb models.Inbound) (inboundView, error) {
	clients, err := s.store.ListClients(inb.ID)
	if err != nil {
		return inboundView{}, err
	}
	if clients == nil {
		clients = []models.Client{}
	}
	return inboundView{Inbound: inb, Clients: clients}, nil
}

func (s *Server) handleListInbounds(w http.ResponseWriter, r *http.Request) {
	inbounds, err := s.store.ListInbounds()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	out := make([]inboundView, 0, len(inbounds))
	for _, inb := range inbounds {
		view, err := s.inboundWithClients(inb)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetInbound(w http.ResponseWriter, r *http.Request) {
	id, err := inboundID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad inbound id")
		return
	}
	inb, err := s.store.GetInbound(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "inbound not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	view, err := s.inboundWithClients(inb)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// resolveRealityKeys fills in a Reality key pair through the engine binary
// when the form left both halves empty.
func (s *Server) resolveRealityKeys(r *http.Request, form *xray.InboundForm) error {
	if form.Security != "reality" || form.RealityPrivateKey != "" || form.RealityPublicKey != "" {
		return nil
	}
	private, public, err := s.engine.GenerateRealityKeys(r.Context())
	if err != nil {
		return err
	}
	form.RealityPrivateKey = private
	form.RealityPublicKey = public
	return nil
}

func marshalBlob(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func (s *Server) handleCreateInbound(w http.ResponseWriter, r *http.Request) {
	var form xray.InboundForm
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if err := form.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.resolveRealityKeys(r, &form); err != nil {
		if errors.Is(err, xray.ErrBinaryMissing) {
			writeError(w, http.StatusBadRequest, "install xray first, reality key generation needs the binary")
			return
		}
		writeError(w, http.StatusBadRequest, "reality key generation failed")
		return
	}

	remark := form.Remark
	if form.Country != "" {
		if remark != "" {
			remark = form.Country + " " + remark
		} else {
			remark = form.Country
		}
	}

	inb := models.Inbound{
		Tag:            xray.NewTag(form.Protocol, form.Port),
		Protocol:       form.Protocol,
		Listen:         form.Listen,
		Port:           form.Port,
		Settings:       marshalBlob(form.BuildProtocolSettings()),
		StreamSettings: marshalBlob(form.BuildStreamSettings()),
		Sniffing:       marshalBlob(form.BuildSniffing()),
		Enabled:        true,
		Remark:         remark,
	}

	id, err := s.store.CreateInbound(inb)
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, http.StatusBadRequest, "Tag conflict: "+inb.Tag)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}

	// Every non-shadowsocks inbound starts with one client so it is
	// usable immediately.
	if form.Protocol != models.ProtocolShadowsocks {
		name := form.ClientName
		if name == "" {
			name = "default-user"
		}
		flow := ""
		if form.Protocol == models.ProtocolVLESS {
			flow = form.Flow
		}
		client := models.Client{
			ID:        auth.RandomToken(8),
			InboundID: id,
			Email:     name,
			UUID:      uuid.NewString(),
			Flow:      flow,
			Enabled:   true,
		}
		if err := s.store.CreateClient(client); err != nil {
			writeError(w, http.StatusInternalServerError, "client create failed")
			return
		}
	}

	s.restartEngine(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *Server) handleEditInbound(w http.ResponseWriter, r *http.Request) {
	id, err := inboundID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad inbound id")
		return
	}
	inb, err := s.store.GetInbound(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "inbound not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	var form xray.InboundForm
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if err := form.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.resolveRealityKeys(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "reality key generation failed")
		return
	}

	inb.Protocol = form.Protocol
	inb.Listen = form.Listen
	inb.Port = form.Port
	inb.Settings = marshalBlob(form.BuildProtocolSettings())
	inb.StreamSettings = marshalBlob(form.BuildStreamSettings())
	inb.Sniffing = marshalBlob(form.BuildSniffing())
	inb.Remark = form.Remark

	if err := s.store.UpdateInbound(inb); err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	s.restartEngine(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleToggleInbound(w http.ResponseWriter, r *http.Request) {
	id, err := inboundID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad inbound id")
		return
	}
	enabled, err := s.store.ToggleInbound(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "inbound not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "toggle failed")
		return
	}
	s.restartEngine(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabled": enabled})
}

func (s *Server) handleDeleteInbound(w http.ResponseWriter, r *http.Request) {
	id, err := inboundID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad inbound id")
		return
	}
	if err := s.store.DeleteInbound(id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	s.restartEngine(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type clientCreateRequest struct {
	Email          string  `json:"email"`
	Flow           string  `json:"flow"`
	ExpiryDays     int     `json:"expiry_days"`
	TrafficLimitGB float64 `json:"traffic_limit_gb"`
	IPLimit        int     `json:"ip_limit"`
}

func expiryFromDays(days int) int64 {
	if days <= 0 {
		return 0
	}
	return time.Now().AddDate(0, 0, days).UnixMilli()
}

func bytesFromGB(gb float64) int64 {
	return int64(gb * 1024 * 1024 * 1024)
}

func (s *Server) handleAddClient(w http.ResponseWriter, r *http.Request) {
	id, err := inboundID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad inbound id")
		return
	}
	if _, err := s.store.GetInbound(id); errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "inbound not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	var payload clientCreateRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if payload.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	client := models.Client{
		ID:           auth.RandomToken(8),
		InboundID:    id,
		Email:        payload.Email,
		UUID:         uuid.NewString(),
		Flow:         payload.Flow,
		Enabled:      true,
		ExpiryTime:   expiryFromDays(payload.ExpiryDays),
		TrafficLimit: bytesFromGB(payload.TrafficLimitGB),
		IPLimit:      payload.IPLimit,
	}
	if err := s.store.CreateClient(client); err != nil {
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	s.restartEngine(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": client.ID, "uuid": client.UUID})
}

type clientUpdateRequest struct {
	Email          *string  `json:"email"`
	Flow           *string  `json:"flow"`
	Enabled        *bool    `json:"enabled"`
	ExpiryDays     *int     `json:"expiry_days"`
	TrafficLimitGB *float64 `json:"traffic_limit_gb"`
	IPLimit        *int     `json:"ip_limit"`
}

func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	client, err := s.store.GetClient(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	var payload clientUpdateRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if payload.Email != nil {
		client.Email = *payload.Email
	}
	if payload.Flow != nil {
		client.Flow = *payload.Flow
	}
	if payload.Enabled != nil {
		client.Enabled = *payload.Enabled
	}
	if payload.ExpiryDays != nil {
		client.ExpiryTime = expiryFromDays(*payload.ExpiryDays)
	}
	if payload.TrafficLimitGB != nil {
		client.TrafficLimit = bytesFromGB(*payload.TrafficLimitGB)
	}
	if payload.IPLimit != nil {
		client.IPLimit = *payload.IPLimit
	}

	if err := s.store.UpdateClient(client); err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	s.restartEngine(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteClient(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	s.restartEngine(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleResetClientTraffic zeroes the usage counters. The engine keeps
// running: counters only matter to the reconciler, not to the config.
func (s *Server) handleResetClientTraffic(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ResetClientTraffic(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleClientLink(w http.ResponseWriter, r *http.Request) {
	client, err := s.store.GetClient(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	inb, err := s.store.GetInbound(client.InboundID)
	if err != nil {
		writeError(w, http.StatusNotFound, "inbound not found")
		return
	}

	host := requestHost(r)
	link, err := sharelink.Render(inb, client, host)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "link rendering failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"link": link, "protocol": inb.Protocol, "host": host, "port": inb.Port,
	})
}
