// Package server — HTTP-вход сервиса: webhook'и Telegram, health и операторские ручки.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/features/payments"
)

// SecretHeader: заголовок, которым Telegram подписывает webhook'и.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateSize = 1 << 20

// Updates обрабатывает апдейты ботов.
type Updates interface {
	HandleUpdate(ctx context.Context, tokenID int64, update telego.Update) error
}

// Bots даёт доступ к реестру ботов.
type Bots interface {
	Count() int
	Reset(ctx context.Context) (int, error)
}

// Payments — операции, доступные оператору.
type Payments interface {
	CreateTopUp(ctx context.Context, req payments.CreateTopUp) (*payments.TopUp, error)
	CompleteManually(ctx context.Context, externalID, provider string) (*payments.Completion, error)
}

// Invoices выставляет счёт по созданному платежу.
type Invoices interface {
	Link(ctx context.Context, topUp *payments.TopUp) (string, error)
}

// Auth проверяет токен оператора.
type Auth interface {
	Verify(ctx context.Context, source, token string) error
}

// Pinger проверяет доступность БД.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Broker — брокер событий; nil, если события только в логе.
type Broker interface {
	HealthCheck() error
}

// Deps собирает зависимости HTTP-слоя.
type Deps struct {
	Updates  Updates
	Bots     Bots
	Payments Payments
	Invoices Invoices
	Auth     Auth
	DB       Pinger
	Broker   Broker
}

// Options — настройки HTTP-сервера.
type Options struct {
	Addr          string
	WebhookSecret string
	// таймаут обработки одного апдейта
	UpdateTimeout time.Duration
}

// Server — HTTP-сервер сервиса.
type Server struct {
	deps     Deps
	opts     Options
	validate *validator.Validate
	router   chi.Router
	http     *http.Server
}

// New собирает роутер.
func New(deps Deps, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = 30 * time.Second
	}

	s := &Server{deps: deps, opts: opts, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/stars/{token_id}", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.operatorAuth)
		r.Post("/setup-webhooks", s.handleSetupWebhooks)
		r.Post("/process-payment/{external_payment_id}", s.handleProcessPayment)
		r.Post("/api/v1/topups", s.handleCreateTopUp)
	})

	s.router = r
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      opts.UpdateTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler отдаёт роутер целиком (для тестов).
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe блокирует до остановки сервера.
func (s *Server) ListenAndServe() error {
	log.WithField("addr", s.opts.Addr).Info("HTTP сервер запущен")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown дожидается текущих запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"bot":              "stars",
		"active_bots":      s.deps.Bots.Count(),
		"webhook_endpoint": "/stars/{token_id}",
		"health_endpoint":  "/health",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"bot":         "stars",
		"active_bots": s.deps.Bots.Count(),
	}
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			log.WithError(err).Warn("Health: БД недоступна")
			body["status"] = "unhealthy"
			body["db"] = "down"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["db"] = "up"
	}
	// брокер не критичен: событие потеряется, зачисление нет
	if s.deps.Broker != nil {
		body["broker"] = "up"
		if err := s.deps.Broker.HealthCheck(); err != nil {
			body["broker"] = "down"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleWebhook всегда отвечает Telegram 200, иначе он будет повторять апдейт.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.WebhookSecret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.WebhookSecret)) != 1 {
			log.WithField("path", r.URL.Path).Warn("Webhook с неверным секретом")
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "bad secret")
			return
		}
	}

	tokenID, err := strconv.ParseInt(chi.URLParam(r, "token_id"), 10, 64)
	if err != nil || tokenID <= 0 {
		writeError(w, http.StatusNotFound, codeNotFound, "unknown bot")
		return
	}

	var update telego.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateSize)).Decode(&update); err != nil {
		log.WithError(err).WithField("token_id", tokenID).Warn("Невалидный апдейт")
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "bad update"})
		return
	}

	// апдейт обрабатываем до конца, даже если Telegram оборвал соединение
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.UpdateTimeout)
	defer cancel()

	if err := s.deps.Updates.HandleUpdate(ctx, tokenID, update); err != nil {
		if errors.Is(err, common.ErrTokenNotFound) {
			log.WithField("token_id", tokenID).Warn("Бот не найден в реестре")
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		log.WithError(err).WithFields(log.Fields{
			"token_id":  tokenID,
			"update_id": update.UpdateID,
		}).Error("Ошибка обработки апдейта")
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// operatorAuth пускает по X-Admin-Token или ?admin_token=.
func (s *Server) operatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			token = r.URL.Query().Get("admin_token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "X-Admin-Token header or admin_token query required")
			return
		}

		err := s.deps.Auth.Verify(r.Context(), clientIP(r), token)
		switch {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, common.ErrTooManyAttempts):
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many failed attempts")
		case errors.Is(err, common.ErrUnauthorized):
			writeError(w, http.StatusForbidden, codeUnauthorized, "invalid admin token")
		default:
			log.WithError(err).Error("Ошибка проверки токена оператора")
			writeError(w, http.StatusInternalServerError, codeInternal, "auth unavailable")
		}
	})
}

func (s *Server) handleSetupWebhooks(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Bots.Reset(r.Context())
	if err != nil {
		log.WithError(err).Error("Ошибка переустановки webhook'ов")
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Webhook'и установлены для %d ботов", n),
	})
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "external_payment_id")
	provider := r.URL.Query().Get("payment_provider")

	c, err := s.deps.Payments.CompleteManually(r.Context(), externalID, provider)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("payment %s not found", externalID))
		return
	case errors.Is(err, common.ErrProviderMismatch):
		writeError(w, http.StatusBadRequest, codeBadRequest,
			fmt.Sprintf("payment %s does not belong to provider %s", externalID, provider))
		return
	default:
		log.WithError(err).WithField("external_payment_id", externalID).Error("Ошибка ручной обработки платежа")
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	message := fmt.Sprintf("Платеж с external_payment_id=%s обработан успешно, кредиты начислены", externalID)
	if c.AlreadyCompleted {
		message = fmt.Sprintf("Платеж с external_payment_id=%s уже был обработан", externalID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"message":           message,
		"payment_id":        c.Payment.ID,
		"credited":          c.Credited,
		"already_completed": c.AlreadyCompleted,
	})
}

// topUpResponse — ответ API пополнения.
type topUpResponse struct {
	PaymentID         int64  `json:"payment_id"`
	ExternalPaymentID string `json:"external_payment_id"`
	Credits           int64  `json:"credits"`
	StarsAmount       int64  `json:"stars_amount"`
	TokenID           int64  `json:"token_id,omitempty"`
	InvoiceLink       string `json:"invoice_link,omitempty"`
}

func (s *Server) handleCreateTopUp(w http.ResponseWriter, r *http.Request) {
	var req payments.CreateTopUp
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidation, err.Error())
		return
	}

	topUp, err := s.deps.Payments.CreateTopUp(r.Context(), req)
	if err != nil {
		if errors.Is(err, common.ErrInvalidAmount) || errors.Is(err, common.ErrInvalidRequest) {
			writeError(w, http.StatusUnprocessableEntity, codeValidation, err.Error())
			return
		}
		log.WithError(err).WithField("user_id", req.UserID).Error("Ошибка создания платежа через API")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to create payment")
		return
	}

	resp := topUpResponse{
		PaymentID:         topUp.PaymentID,
		ExternalPaymentID: topUp.ExternalPaymentID,
		Credits:           topUp.Credits,
		StarsAmount:       topUp.Stars,
		TokenID:           topUp.TokenID,
	}
	if s.deps.Invoices != nil && topUp.TokenID != 0 {
		link, err := s.deps.Invoices.Link(r.Context(), topUp)
		if err != nil {
			log.WithError(err).WithField("payment_id", topUp.PaymentID).Warn("Счёт не выставлен")
		} else {
			resp.InvoiceLink = link
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}
