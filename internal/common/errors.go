// Package common — errors.go определяет ошибки,
// которые используются во всех модулях бота.
// По ним обработчики и HTTP-слой различают типы проблем
// и решают, что ответить пользователю или оператору.
package common

import "errors"

// Ошибки платежей
var (
	// ErrPaymentNotFound — платёж не найден в базе
	ErrPaymentNotFound = errors.New("платёж не найден")
	// ErrInvalidPayload — payload не указывает на платёж
	ErrInvalidPayload = errors.New("неверный payload платежа")
	// ErrUserMismatch — платёж подтверждает не тот пользователь, который его создал
	ErrUserMismatch = errors.New("пользователь не совпадает с владельцем платежа")
	// ErrProviderMismatch — платёж принадлежит другому платёжному провайдеру
	ErrProviderMismatch = errors.New("платёж другого провайдера")
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrInvalidRequest — запрос не прошёл валидацию
	ErrInvalidRequest = errors.New("некорректный запрос")
)

// Ошибки токенов ботов
var (
	// ErrNoActiveTokens — в справочнике нет ни одного активного токена
	ErrNoActiveTokens = errors.New("нет активных токенов")
	// ErrTokenNotFound — токен не найден или выключен
	ErrTokenNotFound = errors.New("токен не найден")
)

// Ошибки админки
var (
	// ErrUnauthorized — неверный админ-токен
	ErrUnauthorized = errors.New("неверный админ-токен")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите")
)

// ErrUserNotFound — пользователь не найден в базе
var ErrUserNotFound = errors.New("пользователь не найден")
