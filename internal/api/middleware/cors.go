package middleware

import (
	"net/http"
	"os"
	"strings"
)

// allowedOrigins - разрешенные origins для браузерного дашборда.
// Дополнительные origins загружаются из ALLOWED_ORIGINS (через запятую),
// та же переменная управляет проверкой Origin на /ws/stream.
var allowedOrigins = map[string]bool{
	"http://localhost:3000": true,
	"http://127.0.0.1:3000": true,
	"http://localhost:8080": true,
	"http://127.0.0.1:8080": true,
	"http://localhost:5173": true, // Vite dev server
	"http://127.0.0.1:5173": true,
}

func init() {
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" && origins != "*" {
		for _, origin := range strings.Split(origins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}
}

func isOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	return allowedOrigins[origin]
}

// CORS - middleware для Cross-Origin Resource Sharing
//
// Дашборд обычно живет на другом порту (Vite dev server, nginx),
// поэтому браузеру нужны CORS заголовки для запросов к API.
//
// Для разрешенных origins ставится конкретный Origin с credentials
// (Basic auth заголовок не пройдет через "*"). Запросы без Origin
// (curl, скрипты) пропускаются как есть. Preflight кешируется 24 часа.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if isOriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		// Неразрешенный origin не получает заголовков - браузер заблокирует ответ

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
