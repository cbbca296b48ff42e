package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	qrcode "github.com/skip2/go-qrcode"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const qrSize = 320

type RESTHandler struct {
	service   *app.LiveService
	publicURL string
}

func NewRESTHandler(service *app.LiveService, publicURL string) *RESTHandler {
	return &RESTHandler{service: service, publicURL: strings.TrimRight(publicURL, "/")}
}

type createSessionRequest struct {
	QuizID string `json:"quizId"`
}

func (h *RESTHandler) CreateSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	created, err := h.service.CreateSession(r.Context(), req.QuizID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *RESTHandler) GetSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	info, err := h.service.SessionInfo(r.Context(), ps.ByName("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// JoinQR renders a PNG QR code pointing at the public join link of a session.
func (h *RESTHandler) JoinQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	info, err := h.service.SessionInfo(r.Context(), ps.ByName("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	png, err := qrcode.Encode(h.JoinURL(info.SessionCode), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// JoinURL is the link players open to join code.
func (h *RESTHandler) JoinURL(code string) string {
	return h.publicURL + "/join/" + code
}

func (h *RESTHandler) Health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NewRouter mounts the REST API and the WebSocket gateway.
func NewRouter(rest *RESTHandler, ws *WSHandler) *httprouter.Router {
	router := httprouter.New()
	router.POST("/api/live-sessions", rest.CreateSession)
	router.GET("/api/live-sessions/:code", rest.GetSession)
	router.GET("/api/live-sessions/:code/qr", rest.JoinQR)
	router.GET("/healthz", rest.Health)
	router.HandlerFunc(http.MethodGet, "/ws", ws.ServeWS)
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		log.Printf("http: panic serving %s %s: %v", r.Method, r.URL.Path, v)
		writeError(w, errors.New("panic"))
	}
	return router
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	payload := app.NewErrorPayload(err)
	if payload.Kind == domain.KindInternal {
		log.Printf("http: internal error: %v", err)
	}
	writeJSON(w, statusFor(payload.Kind), payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}
