package controller

import (
	"encoding/json"
	"net/http"
)

// WebServer serves read-only views of the engine over HTTP plus the live
// trace stream on /ws.
type WebServer struct {
	ctrl *Controller
	hub  *Hub
	mux  *http.ServeMux
}

func NewWebServer(ctrl *Controller, hub *Hub) *WebServer {
	ws := &WebServer{ctrl: ctrl, hub: hub, mux: http.NewServeMux()}
	ws.mux.HandleFunc("GET /state", ws.handleState)
	ws.mux.HandleFunc("GET /messages", ws.handleMessages)
	ws.mux.HandleFunc("GET /cs-log", ws.handleCSLog)
	ws.mux.HandleFunc("GET /invariants", ws.handleInvariants)
	if hub != nil {
		ws.mux.HandleFunc("GET /ws", hub.ServeWS)
	}
	return ws
}

func (ws *WebServer) Handler() http.Handler {
	return ws.mux
}

func (ws *WebServer) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ws.ctrl.Engine().SystemState())
}

func (ws *WebServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageLogResponse{Entries: ws.ctrl.Engine().MessageLog()})
}

func (ws *WebServer) handleCSLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, csAccessLogResponse{Entries: ws.ctrl.Engine().CSAccessLog()})
}

func (ws *WebServer) handleInvariants(w http.ResponseWriter, r *http.Request) {
	report := ws.ctrl.InvariantReport()
	code := http.StatusOK
	if !report.OK {
		code = http.StatusConflict
	}
	writeJSON(w, code, report)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
