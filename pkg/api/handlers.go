package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/davidthor/vmprov/pkg/pricing"
	"github.com/davidthor/vmprov/pkg/schema/deployment"
	"github.com/davidthor/vmprov/pkg/tracker"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type Handler struct {
	Deployments Deployments
	Pricing     *pricing.Calculator
	Logger      log.FieldLogger
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   string                 `json:"timestamp"`
	Deployments map[tracker.Status]int `json:"deployments"`
}

type DeployResponse struct {
	DeploymentID string `json:"deployment_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

type DeploymentsResponse struct {
	Deployments []tracker.Summary `json:"deployments"`
}

type ValidateCredentialsRequest struct {
	Provider    deployment.Provider `json:"provider"`
	Credentials map[string]string   `json:"credentials"`
}

type ValidateCredentialsResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

func (h *Handler) logger(r *http.Request) log.FieldLogger {
	return h.Logger.WithFields(RequestLogFields(r))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().Format(time.RFC3339Nano),
		Deployments: h.Deployments.CountByStatus(),
	})
}

// Deploy starts a deployment and returns its id at once. The config is only
// decoded here; everything else is reported through the deployment status.
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	cfg, err := deployment.DecodeJSON(r.Body)
	if err != nil {
		h.renderDecodeError(w, r, err)
		return
	}

	id := h.Deployments.StartDeployment(cfg)
	h.logger(r).WithField("deployment_id", id).Info("deployment started")

	render.JSON(w, r, DeployResponse{
		DeploymentID: id,
		Status:       "initiated",
		Message:      "Deployment started successfully",
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Deployments.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		h.renderLookupError(w, r, err)
		return
	}
	render.JSON(w, r, rec)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, DeploymentsResponse{
		Deployments: h.Deployments.ListDeployments(),
	})
}

func (h *Handler) ValidateCredentials(w http.ResponseWriter, r *http.Request) {
	var req ValidateCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.renderDecodeError(w, r, err)
		return
	}

	creds := deployment.Credentials{string(req.Provider): req.Credentials}
	if err := deployment.ValidateCredentials(req.Provider, creds); err != nil {
		h.logger(r).WithError(err).Debug("credentials rejected")
		render.JSON(w, r, ValidateCredentialsResponse{
			Valid:   false,
			Message: "Missing required credentials",
		})
		return
	}

	render.JSON(w, r, ValidateCredentialsResponse{
		Valid:   true,
		Message: fmt.Sprintf("%s credentials validated", providerTitle(req.Provider)),
	})
}

func (h *Handler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	cfg, err := deployment.DecodeJSON(r.Body)
	if err != nil {
		h.renderDecodeError(w, r, err)
		return
	}
	render.JSON(w, r, h.Pricing.Calculate(cfg))
}

// Watch upgrades to a websocket and sends the deployment record as JSON on
// every change. The server closes the stream after the final record.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := h.logger(r).WithField("deployment_id", id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, err := h.Deployments.Watch(ctx, id)
	if err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Client messages are ignored; reading only detects a closed connection.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(rec); err != nil {
				logger.WithError(err).Debug("watch client gone")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) renderDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		render.Render(w, r, ErrTooLarge(fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)))
		return
	}
	render.Render(w, r, ErrInvalidRequest(err))
}

func (h *Handler) renderLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if stderrors.Is(err, tracker.ErrNotFound) {
		render.Render(w, r, ErrNotFound("Deployment not found"))
		return
	}
	h.logger(r).WithError(err).Error("deployment lookup failed")
	render.Render(w, r, ErrInternal(err))
}

func providerTitle(p deployment.Provider) string {
	switch p {
	case deployment.ProviderAWS:
		return "AWS"
	default:
		return string(p)
	}
}
