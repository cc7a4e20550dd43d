// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: работа с часовыми поясами, форматирование дат и маскирование секретов.
package common

import (
	"time"
)

// moscow — запасной пояс, если в контейнере нет tzdata.
var moscow = time.FixedZone("MSK", 3*60*60)

// LoadLocation возвращает часовой пояс по имени.
// Если загрузить не удалось (нет tzdata), Москва (UTC+3) вручную.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return moscow
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return moscow
	}
	return loc
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" (день.месяц.год часы:минуты).
// Используется в выводе starsctl.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = moscow
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// MaskSecret оставляет первые n символов секрета, остальное скрывает.
// Токены ботов никогда не пишем в лог целиком.
//
// Примеры:
//
//	MaskSecret("123456:ABCDEF", 6) → "123456…"
//	MaskSecret("abc", 6)           → "abc"
func MaskSecret(s string, n int) string {
	if n < 0 {
		n = 0
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
