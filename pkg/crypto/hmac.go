package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// Ошибки подписи запросов
var (
	ErrEmptySecret   = errors.New("signing secret cannot be empty")
	ErrInvalidSecret = errors.New("invalid base64 signing secret")
)

// SignRequest строит HMAC-SHA256 подпись запроса к CLOB API
//
// Каноническое сообщение: timestamp + method + path + body.
// Секрет - base64 (допускается base64url вариант), подпись
// возвращается в base64url с сохранением '=' в конце.
//
// Пример:
//
//	sig, err := crypto.SignRequest(secret, ts, "POST", "/order", body)
//	req.Header.Set("POLY_SIGNATURE", sig)
func SignRequest(secret string, timestamp int64, method, path string, body []byte) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrEmptySecret
	}

	key, err := base64.StdEncoding.DecodeString(normalizeBase64Secret(secret))
	if err != nil || len(key) == 0 {
		return "", ErrInvalidSecret
	}

	var sb strings.Builder
	sb.Grow(20 + len(method) + len(path) + len(body))
	sb.WriteString(strconv.FormatInt(timestamp, 10))
	sb.WriteString(method)
	sb.WriteString(path)
	if body != nil {
		sb.Write(body)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(sb.String()))
	sum := mac.Sum(nil)

	// URL-safe алфавит, padding сохраняется
	sig := base64.StdEncoding.EncodeToString(sum)
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}

// normalizeBase64Secret приводит секрет к стандартному base64
//
// API биржи выдаёт секрет в base64url, SDK принимают оба варианта.
// Посторонние символы отбрасываются, padding достраивается.
func normalizeBase64Secret(secret string) string {
	secret = strings.TrimSpace(secret)
	secret = strings.ReplaceAll(secret, "-", "+")
	secret = strings.ReplaceAll(secret, "_", "/")

	var b strings.Builder
	b.Grow(len(secret))
	for i := 0; i < len(secret); i++ {
		c := secret[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c)
		case c >= 'a' && c <= 'z':
			b.WriteByte(c)
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '+' || c == '/' || c == '=':
			b.WriteByte(c)
		}
	}

	out := b.String()
	if rem := len(out) % 4; rem != 0 {
		out += strings.Repeat("=", 4-rem)
	}
	return out
}
