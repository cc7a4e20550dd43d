package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/features/tokens"
)

// AllowedUpdates — какие апдейты Telegram присылает на webhook.
var AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}

// Directory — справочник токенов, из которого строится реестр.
type Directory interface {
	ListActive(ctx context.Context) ([]*tokens.Token, error)
	GetByID(ctx context.Context, id int64) (*tokens.Token, error)
	PickRandomActive(ctx context.Context) (*tokens.Token, error)
	UpdateUsername(ctx context.Context, id int64, username string) error
}

// Session — живой клиент одного бота.
type Session struct {
	TokenID  int64
	Username string
	API      API
}

// WebhookConfig — куда Telegram шлёт апдейты.
type WebhookConfig struct {
	// URL возвращает адрес webhook'а для токена; nil: webhook'и не ставим
	URL     func(tokenID int64) string
	Secret  string
	Timeout time.Duration
}

// Registry — кэш сессий ботов по id токена. Источник истины — справочник токенов:
// промах кэша читает справочник, Refresh выравнивает кэш по нему.
type Registry struct {
	dir     Directory
	factory Factory
	webhook WebhookConfig

	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewRegistry(dir Directory, factory Factory, webhook WebhookConfig) *Registry {
	if factory == nil {
		factory = NewTelegoAPI
	}
	if webhook.Timeout <= 0 {
		webhook.Timeout = 10 * time.Second
	}
	return &Registry{
		dir:      dir,
		factory:  factory,
		webhook:  webhook,
		sessions: make(map[int64]*Session),
	}
}

// Init поднимает сессии для всех активных токенов и ставит webhook'и.
// Ошибка отдельного бота не мешает остальным.
func (r *Registry) Init(ctx context.Context) (int, error) {
	active, err := r.dir.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения токенов: %w", err)
	}
	if len(active) == 0 {
		log.Warn("Нет активных токенов в stars_bot_tokens, добавьте хотя бы один с is_active=TRUE")
		return 0, nil
	}
	log.WithField("count", len(active)).Info("Найдены активные токены")

	ok := 0
	for _, t := range active {
		if _, err := r.open(ctx, t, true); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"token_id": t.ID,
				"token":    t.Preview(),
			}).Error("Бот не настроен")
			continue
		}
		ok++
	}

	log.WithFields(log.Fields{"ready": ok, "total": len(active)}).Info("Боты настроены")
	return ok, nil
}

// Refresh добавляет новые активные токены и убирает выключенные.
func (r *Registry) Refresh(ctx context.Context) error {
	active, err := r.dir.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения токенов: %w", err)
	}

	want := make(map[int64]*tokens.Token, len(active))
	for _, t := range active {
		want[t.ID] = t
	}

	r.mu.Lock()
	var dropped []int64
	for id := range r.sessions {
		if _, ok := want[id]; !ok {
			delete(r.sessions, id)
			dropped = append(dropped, id)
		}
	}
	var missing []*tokens.Token
	for id, t := range want {
		if _, ok := r.sessions[id]; !ok {
			missing = append(missing, t)
		}
	}
	r.mu.Unlock()

	for _, t := range missing {
		if _, err := r.open(ctx, t, true); err != nil {
			log.WithError(err).WithField("token_id", t.ID).Warn("Не удалось подключить новый токен")
		}
	}

	if len(dropped) > 0 || len(missing) > 0 {
		log.WithFields(log.Fields{
			"added":   len(missing),
			"dropped": dropped,
			"active":  r.Count(),
		}).Info("Реестр ботов обновлён")
	}
	return nil
}

// Get возвращает сессию бота. На промахе читает справочник: токен мог появиться недавно.
func (r *Registry) Get(ctx context.Context, tokenID int64) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[tokenID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	t, err := r.dir.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return r.open(ctx, t, false)
}

// RandomID — id случайного активного токена.
func (r *Registry) RandomID(ctx context.Context) (int64, error) {
	t, err := r.dir.PickRandomActive(ctx)
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

// SendText отправляет HTML-сообщение через указанного бота.
func (r *Registry) SendText(ctx context.Context, tokenID, chatID int64, text string) error {
	s, err := r.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	_, err = s.API.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    tu.ID(chatID),
		Text:      text,
		ParseMode: telego.ModeHTML,
	})
	return err
}

// Count — сколько ботов в реестре.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs — id токенов в реестре по возрастанию.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reset снимает webhook'и и заново поднимает реестр.
func (r *Registry) Reset(ctx context.Context) (int, error) {
	r.Close(ctx)
	return r.Init(ctx)
}

// Close снимает webhook'и и очищает реестр.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[int64]*Session)
	r.mu.Unlock()

	if r.webhook.URL == nil {
		return
	}
	for id, s := range sessions {
		callCtx, cancel := context.WithTimeout(ctx, r.webhook.Timeout)
		err := s.API.DeleteWebhook(callCtx, &telego.DeleteWebhookParams{})
		cancel()
		if err != nil {
			log.WithError(err).WithField("token_id", id).Error("Ошибка удаления webhook")
			continue
		}
		log.WithField("token_id", id).Info("Webhook удалён")
	}
}

// open создаёт сессию, уточняет username и при необходимости ставит webhook.
func (r *Registry) open(ctx context.Context, t *tokens.Token, withWebhook bool) (*Session, error) {
	api, err := r.factory(t.Token)
	if err != nil {
		return nil, err
	}
	s := &Session{TokenID: t.ID, Username: t.BotUsername, API: api}
	logger := log.WithFields(log.Fields{"token_id": t.ID, "token": t.Preview()})

	callCtx, cancel := context.WithTimeout(ctx, r.webhook.Timeout)
	defer cancel()

	if me, err := api.GetMe(callCtx); err != nil {
		logger.WithError(err).Warn("getMe не удался")
	} else if me.Username != "" && me.Username != t.BotUsername {
		s.Username = me.Username
		if err := r.dir.UpdateUsername(callCtx, t.ID, me.Username); err != nil {
			logger.WithError(err).Warn("Не удалось сохранить username бота")
		}
	}

	if withWebhook && r.webhook.URL != nil {
		url := r.webhook.URL(t.ID)
		if err := api.SetWebhook(callCtx, &telego.SetWebhookParams{
			URL:                url,
			SecretToken:        r.webhook.Secret,
			DropPendingUpdates: true,
			AllowedUpdates:     AllowedUpdates,
		}); err != nil {
			return nil, fmt.Errorf("ошибка установки webhook: %w", err)
		}
		logger.WithField("url", url).Info("Webhook установлен")
	}

	r.mu.Lock()
	if existing, ok := r.sessions[t.ID]; ok && !withWebhook {
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[t.ID] = s
	r.mu.Unlock()
	return s, nil
}
