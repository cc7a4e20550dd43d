package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// LogPanic пишет восстановленную панику в лог вместе со стеком.
// Вызывать из defer-функции, которая сама сделала recover().
func LogPanic(r any, fields log.Fields) {
	log.WithFields(fields).WithFields(log.Fields{
		"component": "panic_recovery",
		"panic":     fmt.Sprintf("%v", r),
		"stack":     string(debug.Stack()),
	}).Error("ПАНИКА в обработчике, восстановлено")
}
