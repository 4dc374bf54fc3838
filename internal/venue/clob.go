package venue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"straddle/internal/models"
	"straddle/pkg/crypto"
	"straddle/pkg/ratelimit"
	"straddle/pkg/retry"
)

// ErrOrderNotKnown возвращается когда биржа не знает ордер с таким хэшом.
// Отличается от транспортной ошибки: опрашивать статус дальше бессмысленно.
var ErrOrderNotKnown = errors.New("order not known to venue")

// ClobCredentials - ключи L2 аутентификации REST API ордеров
type ClobCredentials struct {
	Address       string // адрес торгового аккаунта
	APIKey        string
	APISecret     string // base64, участвует в подписи запросов
	APIPassphrase string
}

// ClobConfig - настройки клиента ордеров
type ClobConfig struct {
	BaseURL     string
	Credentials ClobCredentials
	HTTPTimeout time.Duration // таймаут одного вызова, 0 = дефолт клиента
}

// ClobClient отправляет ордера на биржу и читает их статусы.
//
// Подпись: каждый приватный запрос несёт заголовки POLY_ADDRESS,
// POLY_SIGNATURE, POLY_TIMESTAMP, POLY_API_KEY, POLY_PASSPHRASE.
// Подпись строится по timestamp + method + path + body.
//
// Криптографическая подпись самих ордеров делегирована бирже: payload
// уходит как есть, аутентифицируется только запрос.
type ClobClient struct {
	baseURL    string
	creds      ClobCredentials
	httpClient *http.Client
	limiter    *ratelimit.VenueLimiter
	log        zerolog.Logger
}

// NewClobClient создаёт клиента REST API ордеров
func NewClobClient(cfg ClobConfig, limiter *ratelimit.VenueLimiter, log zerolog.Logger) (*ClobClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("clob base url is required")
	}
	if !strings.HasPrefix(base, "http") {
		return nil, fmt.Errorf("clob url must be http(s), got %q", base)
	}
	if cfg.Credentials.APIKey == "" || cfg.Credentials.APISecret == "" || cfg.Credentials.APIPassphrase == "" {
		return nil, fmt.Errorf("clob credentials are incomplete")
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ClobClient{
		baseURL: base,
		creds:   cfg.Credentials,
		httpClient: &http.Client{
			Transport: SharedTransport(),
			Timeout:   timeout,
		},
		limiter: limiter,
		log:     log,
	}, nil
}

// ============================================================
// Отправка и отмена ордеров
// ============================================================

// orderRequest - тело POST /order. Цена и размер уходят строками,
// так их принимает матчинг биржи.
type orderRequest struct {
	Market     string `json:"market"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Expiration int64  `json:"expiration,omitempty"` // unix секунды, 0 = без TTL
	ClientID   string `json:"client_id,omitempty"`
}

type orderResponse struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
	ErrorMsg string `json:"errorMsg"`
}

// SubmitOrder отправляет один ордер на биржу.
//
// Возвращает LiveOrder с хэшом, назначенным биржей. Отказ биржи
// (success=false) приходит как VenueError; retry-политику решает
// вызывающий исполнитель.
func (c *ClobClient) SubmitOrder(ctx context.Context, intent models.OrderIntent) (*models.LiveOrder, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.CategoryOrders); err != nil {
			return nil, err
		}
	}

	payload := orderRequest{
		Market:   intent.MarketID,
		Side:     intent.Side,
		Price:    FormatDecimal(intent.Price),
		Size:     FormatDecimal(intent.Size),
		ClientID: intent.ClientOrderID,
	}
	if intent.TTLSeconds > 0 {
		payload.Expiration = time.Now().Add(time.Duration(intent.TTLSeconds) * time.Second).Unix()
	}

	body, err := wireJSON.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/order", body, true, &resp); err != nil {
		return nil, err
	}

	// Оба отказа неповторяемы: отклоненный ордер биржа отклонит снова,
	// а принятый без айди мог встать в книгу, и повтор задвоит позицию.
	if !resp.Success {
		return nil, retry.Permanent(&VenueError{Venue: "clob", Code: "ORDER_REJECTED", Message: resp.ErrorMsg})
	}
	if resp.OrderID == "" {
		return nil, retry.Permanent(&VenueError{Venue: "clob", Code: "EMPTY_ORDER_ID", Message: "venue accepted order without id"})
	}

	c.log.Debug().
		Str("order_hash", resp.OrderID).
		Str("market_id", intent.MarketID).
		Str("side", intent.Side).
		Msg("ордер принят биржей")

	return &models.LiveOrder{
		OrderHash: resp.OrderID,
		Intent:    intent,
		CreatedAt: time.Now().UTC(),
		Status:    mapVenueStatus(resp.Status),
	}, nil
}

type cancelRequest struct {
	OrderID string `json:"orderID"`
}

type cancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"` // hash -> причина отказа
}

// CancelOrder отменяет ордер по хэшу.
//
// Отмена уже исполненного или неизвестного ордера приходит в
// not_canceled с причиной; такая причина транслируется в VenueError.
func (c *ClobClient) CancelOrder(ctx context.Context, orderHash string) error {
	orderHash = strings.TrimSpace(orderHash)
	if orderHash == "" {
		return fmt.Errorf("order hash is required")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.CategoryOrders); err != nil {
			return err
		}
	}

	body, err := wireJSON.Marshal(cancelRequest{OrderID: orderHash})
	if err != nil {
		return fmt.Errorf("marshal cancel: %w", err)
	}

	var resp cancelResponse
	if err := c.doRequest(ctx, http.MethodDelete, "/order", body, true, &resp); err != nil {
		return err
	}

	if reason, ok := resp.NotCanceled[orderHash]; ok {
		return &VenueError{Venue: "clob", Code: "NOT_CANCELED", Message: reason}
	}

	return nil
}

// ============================================================
// Статусы ордеров
// ============================================================

// OrderState - состояние ордера на бирже.
// Status хранит словарь биржи (live, matched, delayed, unmatched,
// canceled); в статусы бота переводит MappedStatus.
type OrderState struct {
	OrderHash    string
	Status       string
	Market       string
	Side         string
	Price        float64
	OriginalSize float64
	SizeMatched  float64
}

// MappedStatus переводит статус биржи в статус ордера бота
func (s *OrderState) MappedStatus() string {
	return mapVenueStatus(s.Status)
}

// FullyFilled возвращает true когда исполнен весь заявленный размер
func (s *OrderState) FullyFilled() bool {
	return s.OriginalSize > 0 && s.SizeMatched >= s.OriginalSize
}

type orderInfoPayload struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

type orderInfoResponse struct {
	Order *orderInfoPayload `json:"order"`
}

// GetOrder читает текущее состояние ордера по хэшу.
// Неизвестный бирже хэш даёт ErrOrderNotKnown.
func (c *ClobClient) GetOrder(ctx context.Context, orderHash string) (*OrderState, error) {
	orderHash = strings.TrimSpace(orderHash)
	if orderHash == "" {
		return nil, fmt.Errorf("order hash is required")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.CategoryBooks); err != nil {
			return nil, err
		}
	}

	var resp orderInfoResponse
	err := c.doRequest(ctx, http.MethodGet, "/data/order/"+orderHash, nil, true, &resp)
	if err != nil {
		var ve *VenueError
		if errors.As(err, &ve) && ve.Code == "404" {
			return nil, ErrOrderNotKnown
		}
		return nil, err
	}
	if resp.Order == nil {
		return nil, ErrOrderNotKnown
	}

	o := resp.Order
	price, _ := strconv.ParseFloat(o.Price, 64)
	originalSize, _ := strconv.ParseFloat(o.OriginalSize, 64)
	sizeMatched, _ := strconv.ParseFloat(o.SizeMatched, 64)

	return &OrderState{
		OrderHash:    o.ID,
		Status:       o.Status,
		Market:       o.Market,
		Side:         strings.ToUpper(o.Side),
		Price:        price,
		OriginalSize: originalSize,
		SizeMatched:  sizeMatched,
	}, nil
}

// ============================================================
// REST fallback для книг
// ============================================================

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Timestamp string      `json:"timestamp"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
}

// GetBook читает срез стакана по токену через REST.
//
// Основной источник книг - websocket-поток; REST вызывается когда
// срез в кэше устарел или рынок ещё не попал в подписку.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (*models.OrderBookSnapshot, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, fmt.Errorf("token id is required")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.CategoryBooks); err != nil {
			return nil, err
		}
	}

	var resp bookResponse
	if err := c.doRequest(ctx, http.MethodGet, "/book?token_id="+tokenID, nil, false, &resp); err != nil {
		return nil, err
	}

	snapshot := &models.OrderBookSnapshot{
		MarketID:   tokenID,
		ReceivedAt: time.Now().UTC(),
	}
	if resp.AssetID != "" {
		snapshot.MarketID = resp.AssetID
	}

	if price, size, ok := bestLevel(resp.Bids, true); ok {
		snapshot.BestBid = models.Float64Ptr(price)
		snapshot.BidDepth = size
	}
	if price, size, ok := bestLevel(resp.Asks, false); ok {
		snapshot.BestAsk = models.Float64Ptr(price)
		snapshot.AskDepth = size
	}

	return snapshot, nil
}

// bestLevel находит лучший уровень стороны книги: максимальную цену
// для бидов, минимальную для асков. Порядок уровней в ответе биржи
// не гарантирован, поэтому перебираем все.
func bestLevel(levels []bookLevel, wantMax bool) (price, size float64, ok bool) {
	for _, lvl := range levels {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		s, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil || s <= 0 {
			continue
		}

		if !ok || (wantMax && p > price) || (!wantMax && p < price) {
			price, size, ok = p, s, true
		} else if p == price {
			size += s
		}
	}
	return price, size, ok
}

// ============================================================
// Транспорт
// ============================================================

// doRequest выполняет HTTP вызов к REST API ордеров.
// signed=true добавляет заголовки L2 аутентификации.
func (c *ClobClient) doRequest(ctx context.Context, method, path string, body []byte, signed bool, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", DefaultUserAgent)

	if signed {
		timestamp := time.Now().Unix()
		signature, err := crypto.SignRequest(c.creds.APISecret, timestamp, method, path, body)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("POLY_ADDRESS", c.creds.Address)
		req.Header.Set("POLY_SIGNATURE", signature)
		req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
		req.Header.Set("POLY_API_KEY", c.creds.APIKey)
		req.Header.Set("POLY_PASSPHRASE", c.creds.APIPassphrase)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clob %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return fmt.Errorf("clob read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &VenueError{
			Venue:   "clob",
			Code:    strconv.Itoa(resp.StatusCode),
			Message: strings.TrimSpace(string(respBody)),
		}
	}

	if out == nil {
		return nil
	}
	if err := wireJSON.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("clob decode %s: %w", path, err)
	}
	return nil
}

// mapVenueStatus переводит словарь статусов биржи в статусы ордера бота
func mapVenueStatus(venueStatus string) string {
	switch strings.ToLower(venueStatus) {
	case "live", "unmatched":
		return models.OrderStatusOpen
	case "matched":
		return models.OrderStatusFilled
	case "delayed":
		return models.OrderStatusPending
	case "canceled", "cancelled":
		return models.OrderStatusCancelled
	case "":
		// Успешный ответ без статуса: ордер принят и стоит в книге
		return models.OrderStatusOpen
	default:
		return models.OrderStatusPending
	}
}

// FormatDecimal форматирует цену или размер для wire-протокола:
// до шести знаков после точки, хвостовые нули отбрасываются.
func FormatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
