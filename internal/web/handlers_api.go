package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"p2p-go-home/internal/automation"
	"p2p-go-home/internal/ctrl"
	"p2p-go-home/internal/manager"
	"p2p-go-home/internal/p2p"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	maxBodySize   = 1 << 20
	defaultQRSize = 256
	maxQRSize     = 1024
)

// groupView is a group as returned by the API. The passphrase is only
// reachable through the QR endpoint.
type groupView struct {
	NetworkID     int      `json:"network_id"`
	SSID          string   `json:"ssid"`
	IsOwner       bool     `json:"is_owner"`
	Interface     string   `json:"iface,omitempty"`
	Frequency     int      `json:"frequency,omitempty"`
	Owner         string   `json:"owner,omitempty"`
	Clients       []string `json:"clients"`
	HasPassphrase bool     `json:"has_passphrase"`
}

func toGroupView(g p2p.Group) groupView {
	v := groupView{
		NetworkID:     g.NetworkID,
		SSID:          g.NetworkName,
		IsOwner:       g.IsOwner,
		Interface:     g.Interface,
		Frequency:     g.Frequency,
		Clients:       make([]string, len(g.Clients)),
		HasPassphrase: g.Passphrase != "",
	}
	if g.Owner != nil {
		v.Owner = g.Owner.Address.String()
	}
	for i, c := range g.Clients {
		v.Clients[i] = c.Address.String()
	}
	return v
}

func toGroupViews(groups []p2p.Group) []groupView {
	out := make([]groupView, len(groups))
	for i, g := range groups {
		out[i] = toGroupView(g)
	}
	return out
}

// --- Devices ---

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.Devices())
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddr(w, r)
	if !ok {
		return
	}
	dev, err := s.mgr.Device(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

type renameDeviceRequest struct {
	Alias *string `json:"alias"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddr(w, r)
	if !ok {
		return
	}

	var req renameDeviceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Alias == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "alias is required"})
		return
	}
	alias := strings.TrimSpace(*req.Alias)

	if err := s.mgr.RenameDevice(addr, alias); err != nil {
		s.writeError(w, err)
		return
	}
	dev, err := s.mgr.Device(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAPIForgetDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddr(w, r)
	if !ok {
		return
	}
	if err := s.mgr.ForgetDevice(r.Context(), addr); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRefreshDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddr(w, r)
	if !ok {
		return
	}
	if err := s.mgr.RefreshPeer(r.Context(), addr); err != nil {
		s.writeError(w, err)
		return
	}
	dev, err := s.mgr.Device(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

// --- Groups ---

func (s *Server) handleAPIListGroups(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toGroupViews(s.mgr.Groups()))
}

func (s *Server) handleAPIActiveGroups(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toGroupViews(s.mgr.ActiveGroups()))
}

func (s *Server) handleAPIGetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathNetworkID(w, r)
	if !ok {
		return
	}
	g, err := s.mgr.Group(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toGroupView(g))
}

func (s *Server) handleAPIDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathNetworkID(w, r)
	if !ok {
		return
	}
	if err := s.mgr.DeletePersistentGroup(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRemoveActiveGroup(w http.ResponseWriter, r *http.Request) {
	iface := r.PathValue("iface")
	if iface == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "interface is required"})
		return
	}
	if err := s.mgr.RemoveGroup(r.Context(), iface); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIGroupQR renders the join credentials of an owned persistent group
// as a Wi-Fi QR code.
func (s *Server) handleAPIGroupQR(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathNetworkID(w, r)
	if !ok {
		return
	}
	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 64 || n > maxQRSize {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size must be 64-1024"})
			return
		}
		size = n
	}

	g, err := s.mgr.Group(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !g.IsOwner || g.Passphrase == "" {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no credentials for group"})
		return
	}

	png, err := qrcode.Encode(wifiQRPayload(g.NetworkName, g.Passphrase), qrcode.Medium, size)
	if err != nil {
		s.logger.Error("encode qr", "network_id", id, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		s.logger.Debug("write qr response", "err", err)
	}
}

var wifiEscaper = strings.NewReplacer(`\`, `\\`, `;`, `\;`, `,`, `\,`, `:`, `\:`, `"`, `\"`)

// wifiQRPayload builds the WIFI: URI understood by phone camera apps.
func wifiQRPayload(ssid, passphrase string) string {
	return "WIFI:T:WPA;S:" + wifiEscaper.Replace(ssid) + ";P:" + wifiEscaper.Replace(passphrase) + ";;"
}

// --- Discovery and connection ---

func (s *Server) handleAPIInvitations(w http.ResponseWriter, r *http.Request) {
	invs := s.mgr.Invitations()
	if invs == nil {
		invs = []p2p.Invitation{}
	}
	s.writeJSON(w, http.StatusOK, invs)
}

func (s *Server) handleAPIFind(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Find(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "finding": true})
}

func (s *Server) handleAPIStopFind(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.StopFind(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "finding": false})
}

type connectRequest struct {
	Addr       string `json:"addr"`
	Persistent bool   `json:"persistent"`
}

func (s *Server) handleAPIConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	addr, err := p2p.ParseMAC(req.Addr)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid addr"})
		return
	}
	if err := s.mgr.Connect(r.Context(), addr, req.Persistent); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "invited", "addr": addr.String()})
}

func (s *Server) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	info := s.mgr.Info()
	info["version"] = s.version
	info["uptime"] = time.Since(s.started).Round(time.Second).String()
	if s.autoEngine != nil {
		info["scripts_running"] = len(s.autoEngine.Running())
	}
	s.writeJSON(w, http.StatusOK, info)
}

// --- Helpers ---

func (s *Server) pathAddr(w http.ResponseWriter, r *http.Request) (p2p.MacAddress, bool) {
	addr, err := p2p.ParseMAC(r.PathValue("addr"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid address"})
		return p2p.MacAddress{}, false
	}
	return addr, true
}

func (s *Server) pathNetworkID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid network id"})
		return 0, false
	}
	return id, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// writeError maps manager and supplicant errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, manager.ErrUnknownDevice),
		errors.Is(err, manager.ErrUnknownGroup),
		errors.Is(err, automation.ErrScriptNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, p2p.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, ctrl.ErrCommandFailed):
		status, msg = http.StatusBadGateway, err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ctrl.ErrClosed):
		status, msg = http.StatusServiceUnavailable, "supplicant unavailable"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("api request failed", "status", status, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
