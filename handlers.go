package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

func newHandler(h *hub, d *dispatcher, g *gate, ticker *mTicker, origin string) http.Handler {
	r := mux.NewRouter()
	r.Path("/connect").Handler(newWsHandler(h, d, g, ticker, origin))
	r.Path("/token").Methods("POST").Handler(tokenHandler{g: g})
	r.Path("/check").Methods("POST").Handler(checkHandler{g: g})
	r.Path("/delete").Methods("POST").Handler(deleteHandler{g: g})
	r.Path("/notify").Methods("POST").Handler(notifyHandler{d: d, g: g})
	r.Path("/status").Methods("POST").Handler(statusHandler{h: h, g: g})
	r.Path("/healthz").Methods("GET").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK\n"))
	})
	r.Path("/metrics").Methods("GET").HandlerFunc(metricsHandler)
	return r
}

// apiResponse mirrors the body shape management clients already parse:
// a status field echoing the outcome plus either a message or data.
type apiResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeAPI(w http.ResponseWriter, httpStatus int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// ==== connection path ====

type wsHandler struct {
	h        *hub
	d        *dispatcher
	g        *gate
	ticker   *mTicker
	upgrader *websocket.Upgrader
}

func newWsHandler(h *hub, d *dispatcher, g *gate, ticker *mTicker, origin string) wsHandler {
	upgrader := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if origin != "" {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return r.Header.Get("Origin") == origin
		}
	} else {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return wsHandler{h: h, d: d, g: g, ticker: ticker, upgrader: upgrader}
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := presentedToken(r)
	if err := wsh.g.authenticate(r.Context(), token); err != nil {
		incr("auth.rejects", 1)
		logger.Warn().Err(err).Msg("connection rejected")
		switch {
		case errors.Is(err, errAuthentication):
			http.Error(w, errAuthentication.Error(), http.StatusUnauthorized)
		case errors.Is(err, errInvalidToken):
			http.Error(w, errInvalidToken.Error(), http.StatusForbidden)
		default:
			http.Error(w, errVerificationFailed.Error(), http.StatusInternalServerError)
		}
		return
	}
	ws, err := wsh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConnection(websocketInteractor{ws: ws}, wsh.h, wsh.d, wsh.ticker, uuid.NewString(), token)
	if err := wsh.h.admit(c); err != nil {
		logger.Error().Err(err).Str("conn", c.id).Msg("admission refused")
		ws.Close()
		return
	}
	logger.Info().Str("conn", c.id).Msg("connected")
	c.run()
	logger.Info().Str("conn", c.id).Msg("disconnected")
}

func presentedToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// ==== management API ====

type tokenHandler struct {
	g *gate
}

func (th tokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PurchaseCode string `json:"purchase_code"`
		SiteURL      string `json:"site_url"`
	}
	if err := decodeBody(r, &body); err != nil || body.PurchaseCode == "" || body.SiteURL == "" {
		writeAPI(w, http.StatusBadRequest, apiResponse{
			Status: 400, Message: "Missing purchase_code or site_url"})
		return
	}
	token, err := generateToken()
	if err != nil {
		writeAPI(w, http.StatusInternalServerError, apiResponse{
			Status: 500, Message: "Token generation error"})
		return
	}
	if err := th.g.store.insert(r.Context(), body.PurchaseCode, body.SiteURL, token); err != nil {
		logger.Error().Err(err).Msg("token insert failed")
		writeAPI(w, http.StatusInternalServerError, apiResponse{
			Status: 500, Message: "Database error"})
		return
	}
	incr("tokens.issued", 1)
	writeAPI(w, http.StatusOK, apiResponse{
		Status: 200, Data: map[string]string{"token": token}})
}

type checkHandler struct {
	g *gate
}

func (ch checkHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PurchaseCode string `json:"purchase_code"`
		Token        string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeAPI(w, http.StatusBadRequest, apiResponse{
			Status: 400, Message: "Malformed request body"})
		return
	}
	ok, err := ch.g.verify(r.Context(), body.PurchaseCode, body.Token)
	if err != nil {
		logger.Error().Err(err).Msg("token check failed")
		writeAPI(w, http.StatusInternalServerError, apiResponse{
			Status: 500, Message: "Error checking token"})
		return
	}
	if ok {
		writeAPI(w, http.StatusOK, apiResponse{Status: 200, Message: "Token is valid"})
	} else {
		writeAPI(w, http.StatusOK, apiResponse{Status: 500, Message: "Token is invalid"})
	}
}

type deleteHandler struct {
	g *gate
}

func (dh deleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PurchaseCode string `json:"purchase_code"`
		Token        string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeAPI(w, http.StatusBadRequest, apiResponse{
			Status: 400, Message: "Malformed request body"})
		return
	}
	removed, err := dh.g.store.delete(r.Context(), body.PurchaseCode, body.Token)
	if err != nil {
		logger.Error().Err(err).Msg("token delete failed")
		writeAPI(w, http.StatusInternalServerError, apiResponse{
			Status: 500, Message: "Error deleting token"})
		return
	}
	if removed {
		incr("tokens.revoked", 1)
		writeAPI(w, http.StatusOK, apiResponse{Status: 200, Message: "Token deleted successfully"})
	} else {
		writeAPI(w, http.StatusOK, apiResponse{Status: 500, Message: "Token not found or already deleted"})
	}
}

type notifyHandler struct {
	d *dispatcher
	g *gate
}

func (nh notifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token         string          `json:"token"`
		EventName     string          `json:"event_name"`
		EventContent  json.RawMessage `json:"event_content"`
		EventVolatile bool            `json:"event_volatile"`
		Name          string          `json:"name"`
		Content       json.RawMessage `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeAPI(w, http.StatusBadRequest, apiResponse{
			Status: 400, Message: "Malformed request body"})
		return
	}

	var event string
	var data interface{}
	switch {
	case body.Name != "" && len(body.Content) > 0:
		event, data = body.Name, body.Content
	case body.EventName != "":
		event = "notify"
		data = map[string]interface{}{
			"event_name":     body.EventName,
			"event_content":  body.EventContent,
			"event_volatile": body.EventVolatile,
		}
	default:
		// A push with no event name at all is rejected outright.
		writeAPI(w, http.StatusBadRequest, apiResponse{
			Status: 400, Message: "Missing event name"})
		return
	}

	if body.Token != "" {
		if err := nh.g.authenticate(r.Context(), body.Token); err != nil {
			if errors.Is(err, errVerificationFailed) {
				writeAPI(w, http.StatusInternalServerError, apiResponse{
					Status: 500, Message: "Token verification failed"})
			} else {
				writeAPI(w, http.StatusForbidden, apiResponse{
					Status: 403, Message: "Invalid token"})
			}
			return
		}
		nh.d.toChannel(body.Token, event, data, body.EventVolatile)
	} else {
		nh.d.toAll(event, data, body.EventVolatile)
	}
	incr("notify.pushed", 1)
	writeAPI(w, http.StatusOK, apiResponse{Status: 200, Message: "Notification sent successfully"})
}

type statusHandler struct {
	h *hub
	g *gate
}

func (sh statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		SocketID string `json:"socket_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeAPI(w, http.StatusBadRequest, apiResponse{
			Status: 400, Message: "Malformed request body"})
		return
	}
	if err := sh.g.authenticate(r.Context(), body.Token); err != nil {
		if errors.Is(err, errVerificationFailed) {
			writeAPI(w, http.StatusInternalServerError, apiResponse{
				Status: 500, Message: "Token verification failed"})
		} else {
			writeAPI(w, http.StatusForbidden, apiResponse{
				Status: 403, Message: "Invalid token"})
		}
		return
	}
	writeAPI(w, http.StatusOK, apiResponse{
		Status: 200,
		Data:   map[string]bool{"connected": sh.h.isOnline(body.SocketID)},
	})
}
