// Package admin — аутентификация оператора по токену (Argon2id) с защитой от перебора.
// models.go описывает попытки входа.
package admin

import "time"

// LoginAttempt — попытка входа (для защиты от brute-force).
type LoginAttempt struct {
	ID          int64     `db:"id"`
	Source      string    `db:"source"` // IP или имя CLI-клиента
	AttemptTime time.Time `db:"attempt_time"`
	Success     bool      `db:"success"`
}

// Параметры Argon2id для новых хешей.
const (
	HashMemory      uint32 = 64 * 1024 // 64 MB
	HashIterations  uint32 = 3
	HashParallelism uint8  = 2
	HashKeyLength   uint32 = 32
	HashSaltLength         = 16
)

// maxSourceLen — колонка source VARCHAR(64).
const maxSourceLen = 64
