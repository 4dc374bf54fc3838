package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"straddle/internal/models"
	"straddle/pkg/ratelimit"
)

// DefaultUserAgent - браузерный UA. Каталог за Cloudflare отвечает 403
// на запросы с дефолтным Go user-agent.
const DefaultUserAgent = "Mozilla/5.0"

// GammaConfig - настройки сканера каталога рынков
type GammaConfig struct {
	BaseURL       string
	Tags          []string      // теги дисциплины, например ["valorant", "esports"]
	MinMarketAge  time.Duration // рынки моложе не берём: книга ещё не устоялась
	MinVolume24h  float64       // минимальный суточный объём в долларах
	MaxStartAhead time.Duration // не берём рынки, стартующие позже этого горизонта
	HTTPTimeout   time.Duration
}

// GammaClient сканирует каталог биржи и отбирает бинарные рынки
// "кто победит" с двумя исходами YES/NO.
//
// Каждый рынок попадает в выдачу один раз: внутренний кэш просмотренных
// id защищает движок от повторных входов в тот же рынок между циклами.
type GammaClient struct {
	baseURL   string
	tags      []string
	minAge    time.Duration
	minVolume float64
	maxAhead  time.Duration

	httpClient *http.Client
	userAgent  string
	limiter    *ratelimit.VenueLimiter
	log        zerolog.Logger

	// Кэш просмотренных рынков
	seen   map[string]struct{}
	seenMu sync.Mutex
}

// NewGammaClient создаёт клиента каталога рынков
func NewGammaClient(cfg GammaConfig, limiter *ratelimit.VenueLimiter, log zerolog.Logger) (*GammaClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("gamma base url is required")
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("gamma url parse %q: %w", base, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", base)
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// Общий транспорт с пулом соединений, таймаут свой:
	// каталог отвечает медленнее торговых эндпоинтов
	return &GammaClient{
		baseURL: base,
		tags:    cfg.Tags,

		minAge:    cfg.MinMarketAge,
		minVolume: cfg.MinVolume24h,
		maxAhead:  cfg.MaxStartAhead,

		httpClient: &http.Client{
			Transport: SharedTransport(),
			Timeout:   timeout,
		},
		userAgent: DefaultUserAgent,
		limiter:   limiter,
		log:       log,
		seen:      make(map[string]struct{}),
	}, nil
}

// ============================================================
// Разбор причуд каталога: массивы и числа приходят строками
// ============================================================

// stringList разбирает списки, которые каталог кодирует JSON-строкой
// с JSON-массивом внутри: `"[\"Yes\", \"No\"]"`. Прямые массивы тоже
// принимаются.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}

	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = nil
			return nil
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return err
		}
		*s = vals
		return nil
	}

	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*s = vals
	return nil
}

// floatString разбирает числа, которые каталог отдаёт то числом, то строкой
type floatString float64

func (f *floatString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = floatString(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = floatString(v)
	return nil
}

// isoTime разбирает даты каталога в нескольких встречающихся форматах.
// Нераспознанная или пустая дата даёт нулевое время и не валит разбор
// всего каталога.
type isoTime struct {
	time.Time
}

var isoTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05-07",
	"2006-01-02",
}

func (t *isoTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(strings.Replace(s, "Z", "+00:00", 1))

	for _, layout := range isoTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}

	t.Time = time.Time{}
	return nil
}

// marketPayload - сырой рынок из ответа каталога
type marketPayload struct {
	ID            string         `json:"id"`
	Question      string         `json:"question"`
	Slug          string         `json:"slug"`
	Outcomes      stringList     `json:"outcomes"`
	ClobTokenIDs  stringList     `json:"clobTokenIds"`
	CreatedAt     isoTime        `json:"createdAt"`
	GameStartTime isoTime        `json:"gameStartTime"`
	EndDate       isoTime        `json:"endDate"`
	Volume24h     floatString    `json:"volume24hr"`
	Liquidity     floatString    `json:"liquidity"`
	Active        bool           `json:"active"`
	Closed        bool           `json:"closed"`
	Events        []eventPayload `json:"events"`
}

type eventPayload struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// ScanMarkets опрашивает каталог и возвращает новые подходящие рынки.
//
// Фильтры:
//   - в вопросе есть "winner"/"win" (рынок победителя матча)
//   - ровно два исхода YES/NO и два токена книги
//   - рынок активен и не закрыт
//   - возраст не меньше MinMarketAge
//   - суточный объём не меньше MinVolume24h
//   - старт матча не дальше MaxStartAhead
//
// Чёрный список и уже открытые позиции проверяет вызывающий движок.
func (g *GammaClient) ScanMarkets(ctx context.Context) ([]models.MarketMetadata, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, ratelimit.CategoryMarkets); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	if len(g.tags) > 0 {
		q.Set("tag", strings.Join(g.tags, ","))
	}
	endpoint := g.baseURL + "/markets?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gamma request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &VenueError{
			Venue:   "gamma",
			Code:    strconv.Itoa(resp.StatusCode),
			Message: readBodyLimit(resp.Body, 8<<10),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("gamma read body: %w", err)
	}

	var payload []marketPayload
	if err := wireJSON.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("gamma decode: %w", err)
	}

	now := time.Now().UTC()
	markets := make([]models.MarketMetadata, 0, len(payload))

	for i := range payload {
		m := &payload[i]
		if m.ID == "" || g.alreadySeen(m.ID) {
			continue
		}
		if !isWinnerMarket(m.Question) {
			continue
		}
		if m.Closed || !m.Active {
			continue
		}

		yesToken, noToken, ok := yesNoTokens(m.Outcomes, m.ClobTokenIDs)
		if !ok {
			continue
		}

		// Возраст рынка: свежесозданная книга ещё не несёт информации
		if !m.CreatedAt.IsZero() && now.Sub(m.CreatedAt.Time) < g.minAge {
			continue
		}
		if float64(m.Volume24h) < g.minVolume {
			continue
		}
		if g.maxAhead > 0 && !m.GameStartTime.IsZero() && m.GameStartTime.After(now.Add(g.maxAhead)) {
			continue
		}

		eventID := ""
		if len(m.Events) > 0 {
			eventID = m.Events[0].ID
		}

		markets = append(markets, models.MarketMetadata{
			MarketID:     m.ID,
			Title:        m.Question,
			EventID:      eventID,
			YesTokenID:   yesToken,
			NoTokenID:    noToken,
			StartTime:    m.GameStartTime.Time,
			Volume24h:    float64(m.Volume24h),
			Liquidity:    float64(m.Liquidity),
			Active:       m.Active,
			Closed:       m.Closed,
			DiscoveredAt: now,
		})
		g.markSeen(m.ID)
	}

	g.log.Debug().
		Int("fetched", len(payload)).
		Int("accepted", len(markets)).
		Msg("каталог рынков просканирован")

	return markets, nil
}

// GetMarket запрашивает метаданные одного рынка по идентификатору.
//
// Нужен при восстановлении после рестарта: у открытых позиций в базе
// нет токенов книг, их приходится узнавать заново. Фильтры пригодности
// (возраст, объём) здесь не применяются: позиция уже открыта.
func (g *GammaClient) GetMarket(ctx context.Context, marketID string) (*models.MarketMetadata, error) {
	if marketID == "" {
		return nil, fmt.Errorf("gamma: market id is required")
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, ratelimit.CategoryMarkets); err != nil {
			return nil, err
		}
	}

	endpoint := g.baseURL + "/markets/" + url.PathEscape(marketID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gamma request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &VenueError{
			Venue:   "gamma",
			Code:    strconv.Itoa(resp.StatusCode),
			Message: readBodyLimit(resp.Body, 8<<10),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("gamma read body: %w", err)
	}

	var m marketPayload
	if err := wireJSON.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("gamma decode: %w", err)
	}

	yesToken, noToken, ok := yesNoTokens(m.Outcomes, m.ClobTokenIDs)
	if !ok {
		return nil, fmt.Errorf("gamma: market %s has no YES/NO token pair", marketID)
	}

	eventID := ""
	if len(m.Events) > 0 {
		eventID = m.Events[0].ID
	}

	return &models.MarketMetadata{
		MarketID:     m.ID,
		Title:        m.Question,
		EventID:      eventID,
		YesTokenID:   yesToken,
		NoTokenID:    noToken,
		StartTime:    m.GameStartTime.Time,
		Volume24h:    float64(m.Volume24h),
		Liquidity:    float64(m.Liquidity),
		Active:       m.Active,
		Closed:       m.Closed,
		DiscoveredAt: time.Now().UTC(),
	}, nil
}

// SeenCount возвращает размер кэша просмотренных рынков
func (g *GammaClient) SeenCount() int {
	g.seenMu.Lock()
	defer g.seenMu.Unlock()
	return len(g.seen)
}

// ResetSeen очищает кэш просмотренных рынков.
// Вызывается движком при длительной работе, чтобы кэш не рос бесконечно.
func (g *GammaClient) ResetSeen() {
	g.seenMu.Lock()
	g.seen = make(map[string]struct{})
	g.seenMu.Unlock()
}

// Forget убирает рынок из кэша: разрешённый рынок может переоткрыться
// на бирже после отмены результата
func (g *GammaClient) Forget(marketID string) {
	g.seenMu.Lock()
	delete(g.seen, marketID)
	g.seenMu.Unlock()
}

func (g *GammaClient) alreadySeen(marketID string) bool {
	g.seenMu.Lock()
	defer g.seenMu.Unlock()
	_, ok := g.seen[marketID]
	return ok
}

func (g *GammaClient) markSeen(marketID string) {
	g.seenMu.Lock()
	g.seen[marketID] = struct{}{}
	g.seenMu.Unlock()
}

// isWinnerMarket проверяет, что вопрос рынка про победителя матча.
// "winner" и "win" сводятся к одной подстроке.
func isWinnerMarket(question string) bool {
	return strings.Contains(strings.ToLower(question), "win")
}

// yesNoTokens сопоставляет токены книги исходам YES и NO.
// Порядок токенов следует порядку исходов; рынки с исходами,
// отличными от Yes/No, отбрасываются.
func yesNoTokens(outcomes []string, tokens []string) (yes, no string, ok bool) {
	if len(outcomes) != 2 || len(tokens) != 2 {
		return "", "", false
	}

	first := strings.ToLower(strings.TrimSpace(outcomes[0]))
	second := strings.ToLower(strings.TrimSpace(outcomes[1]))

	switch {
	case first == "yes" && second == "no":
		return strings.TrimSpace(tokens[0]), strings.TrimSpace(tokens[1]), true
	case first == "no" && second == "yes":
		return strings.TrimSpace(tokens[1]), strings.TrimSpace(tokens[0]), true
	default:
		return "", "", false
	}
}

// readBodyLimit читает не больше max байт тела ответа для сообщений об ошибках
func readBodyLimit(r io.Reader, max int64) string {
	if r == nil || max <= 0 {
		return ""
	}
	lr := &io.LimitedReader{R: r, N: max}
	b, _ := io.ReadAll(lr)
	return strings.TrimSpace(string(b))
}
