package middleware

import (
	"crypto/subtle"
	"net/http"

	"straddle/pkg/crypto"
)

// BasicAuth - middleware аутентификации управляющего API
//
// Назначение:
// Защищает управляющие endpoints (/api/v1/*) от неавторизованного доступа.
// Бот исполняет реальные ордера, поэтому ручки resolve/blacklist/reset
// не должны быть доступны без пароля даже в локальной сети.
//
// Конфигурация:
// - username: имя оператора (API_AUTH_USER, по умолчанию "admin")
// - passwordHash: bcrypt-хеш пароля (API_AUTH_PASSWORD_HASH)
// - Пустой hash отключает аутентификацию (локальное развертывание)
//
// Безопасность:
// - Constant-time сравнение имени пользователя против timing attacks
// - Пароль сверяется через bcrypt (crypto.PasswordMatches),
//   сам hash в запросах не участвует
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.BasicAuth(cfg.Security.APIAuthUser, cfg.Security.APIAuthPasswordHash))
func BasicAuth(username, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Аутентификация не настроена - пропускаем все запросы
			if passwordHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passMatch := crypto.PasswordMatches(pass, passwordHash)

			if !userMatch || !passMatch {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="straddle ops API"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
