// Package users хранит пользователей платёжного бота и их язык.
// models.go описывает структуры данных для работы с таблицей users.
package users

import "time"

// User — пользователь, который писал боту.
// Язык выставляется при первом контакте и дальше меняется только основным приложением.
type User struct {
	UserID    int64     `db:"user_id"`    // Telegram user ID
	Username  string    `db:"username"`   // @username (может быть пустым)
	FirstName string    `db:"first_name"` // Имя пользователя
	Lang      string    `db:"lang"`       // ru / en / zh
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Profile — данные из Telegram, которые приходят с каждым апдейтом.
type Profile struct {
	UserID       int64
	Username     string
	FirstName    string
	LanguageCode string
}

// DisplayName возвращает отображаемое имя пользователя.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}
