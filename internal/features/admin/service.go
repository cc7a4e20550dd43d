// Package admin — service.go проверяет токен оператора и считает неудачные попытки.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/stars-bot/internal/common"
)

// Attempts — журнал попыток входа.
type Attempts interface {
	LogAttempt(ctx context.Context, source string, success bool) error
	CountFailures(ctx context.Context, source string, period time.Duration) (int, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// Service проверяет операторские токены.
type Service struct {
	attempts    Attempts
	hash        string
	maxAttempts int
	window      time.Duration
}

// NewService создаёт сервис. hash: ADMIN_TOKEN_HASH в формате Argon2id.
func NewService(attempts Attempts, hash string, maxAttempts int, window time.Duration) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		attempts:    attempts,
		hash:        hash,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Verify проверяет токен оператора с использованием Argon2id.
// Защита от brute-force: maxAttempts неудач за window блокируют источник до конца окна.
func (s *Service) Verify(ctx context.Context, source, token string) error {
	source = normalizeSource(source)

	failures, err := s.attempts.CountFailures(ctx, source, s.window)
	if err != nil {
		return err
	}
	if failures >= s.maxAttempts {
		log.WithFields(log.Fields{"source": source, "failures": failures}).Warn("Источник заблокирован")
		return common.ErrTooManyAttempts
	}

	match := token != "" && VerifyHash(token, s.hash)

	if err := s.attempts.LogAttempt(ctx, source, match); err != nil {
		log.WithError(err).WithField("source", source).Warn("Попытка входа не записана")
	}

	if !match {
		log.WithField("source", source).Warn("Неверный токен оператора")
		return common.ErrUnauthorized
	}
	return nil
}

// Purge удаляет попытки старше двух окон.
func (s *Service) Purge(ctx context.Context) error {
	n, err := s.attempts.PurgeBefore(ctx, time.Now().Add(-2*s.window))
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("deleted", n).Debug("Старые попытки входа удалены")
	}
	return nil
}

func normalizeSource(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return "unknown"
	}
	if len(source) > maxSourceLen {
		source = source[:maxSourceLen]
	}
	return source
}

// --- Криптографические утилиты ---

// HashToken считает Argon2id-хеш токена со случайной солью.
// Формат: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("пустой токен")
	}
	salt := make([]byte, HashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}

	hash := argon2.IDKey([]byte(token), salt, HashIterations, HashMemory, HashParallelism, HashKeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, HashMemory, HashIterations, HashParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyHash проверяет токен по хешу Argon2id.
func VerifyHash(token, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(token), salt, iterations, memory, parallelism, uint32(len(expected)))

	// Сравниваем в постоянном времени
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
