// Package venue содержит клиентов биржи предсказаний: каталог рынков (gamma),
// REST ордеров и книг (clob) и websocket-поток срезов стакана.
package venue

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// wireJSON - кодек для интенсивных ответов биржи (каталог, книги, поток).
// jsoniter разбирает крупные массивы рынков и события книг заметно
// быстрее encoding/json, интерфейс совместим.
var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Параметры общего пула соединений. Биржа одна, хостов у неё немного,
// поэтому лимиты на хост важнее общего потолка.
const (
	dialTimeout       = 5 * time.Second
	dialKeepAlive     = 30 * time.Second
	tlsTimeout        = 5 * time.Second
	respHeaderTimeout = 10 * time.Second
	idleConnTimeout   = 90 * time.Second

	maxIdleConns    = 100
	maxIdlePerHost  = 10
	maxConnsPerHost = 20
)

var (
	sharedTransport     *http.Transport
	sharedTransportOnce sync.Once
)

// SharedTransport возвращает пул соединений, общий для всех REST клиентов
// пакета. Каталог, ордера и fallback книг ходят на соседние хосты одной
// биржи; раздельные пулы означали бы лишние TLS handshake на горячем пути
// отправки ордеров.
//
// Сжатие выключено: ответы каталога большие, но распаковка дороже байтов
// на внутридатацентровом линке. Итоговый таймаут запроса задаёт каждый
// клиент на своём http.Client.
func SharedTransport() *http.Transport {
	sharedTransportOnce.Do(func() {
		dialer := &net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: dialKeepAlive,
		}
		sharedTransport = &http.Transport{
			DialContext: dialer.DialContext,

			MaxIdleConns:        maxIdleConns,
			MaxIdleConnsPerHost: maxIdlePerHost,
			MaxConnsPerHost:     maxConnsPerHost,
			IdleConnTimeout:     idleConnTimeout,

			TLSHandshakeTimeout: tlsTimeout,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},

			DisableCompression:    true,
			ForceAttemptHTTP2:     true,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: respHeaderTimeout,
		}
	})
	return sharedTransport
}
