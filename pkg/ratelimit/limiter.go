// Пакет ratelimit ограничивает частоту запросов к API биржи.
//
// Биржа считает лимиты раздельно по типам запросов, поэтому поверх
// token bucket построен VenueLimiter с ведром на категорию: ордера,
// книги и статусы, каталог рынков.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Category различает лимиты по типу запроса к бирже.
type Category string

const (
	// CategoryOrders покрывает отправку и отмену ордеров.
	CategoryOrders Category = "orders"
	// CategoryBooks покрывает книги и опрос статусов ордеров.
	CategoryBooks Category = "books"
	// CategoryMarkets покрывает каталог рынков.
	CategoryMarkets Category = "markets"
)

// ============================================================
// Bucket
// ============================================================

// Bucket - token bucket на одну категорию запросов.
//
// Ведро пополняется со скоростью rate токенов в секунду до емкости
// burst; каждый запрос забирает один токен. Запас burst нужен, чтобы
// парные входные ордера уходили без паузы между ногами.
type Bucket struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

// NewBucket создает ведро со скоростью rate токенов/сек и емкостью
// burst. Емкость меньше скорости не имеет смысла и поднимается до нее.
func NewBucket(rate, burst float64) *Bucket {
	if rate <= 0 {
		rate = 10
	}
	if burst < rate {
		burst = rate
	}
	return &Bucket{
		rate:   rate,
		burst:  burst,
		tokens: burst,
		last:   time.Now(),
	}
}

// take пересчитывает запас по прошедшему времени и пытается забрать
// токен. При пустом ведре возвращает ожидание до следующего токена.
func (b *Bucket) take() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

// Wait блокирует до получения токена или отмены контекста.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		ok, wait := b.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow забирает токен без ожидания.
func (b *Bucket) Allow() bool {
	ok, _ := b.take()
	return ok
}

// ============================================================
// VenueLimiter
// ============================================================

// VenueLimiter держит отдельное ведро на каждую категорию запросов
// одной биржи. Категория без ведра не ограничивается.
type VenueLimiter struct {
	mu      sync.RWMutex
	buckets map[Category]*Bucket
}

// NewVenueLimiter создает лимитер без единого ведра.
func NewVenueLimiter() *VenueLimiter {
	return &VenueLimiter{
		buckets: make(map[Category]*Bucket),
	}
}

// ForVenue распределяет общий бюджет rps биржи по категориям: книгам
// полный бюджет (их опрашивают чаще всего), ордерам и каталогу по
// половине.
func ForVenue(rps float64) *VenueLimiter {
	vl := NewVenueLimiter()
	vl.Add(CategoryOrders, rps/2, rps)
	vl.Add(CategoryBooks, rps, rps*2)
	vl.Add(CategoryMarkets, rps/2, rps)
	return vl
}

// Add ставит ведро на категорию, заменяя существующее.
func (vl *VenueLimiter) Add(cat Category, rate, burst float64) {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	vl.buckets[cat] = NewBucket(rate, burst)
}

// Wait ожидает токен для категории.
func (vl *VenueLimiter) Wait(ctx context.Context, cat Category) error {
	vl.mu.RLock()
	bucket, ok := vl.buckets[cat]
	vl.mu.RUnlock()

	if !ok {
		return nil
	}
	return bucket.Wait(ctx)
}

// Allow проверяет токен категории без ожидания.
func (vl *VenueLimiter) Allow(cat Category) bool {
	vl.mu.RLock()
	bucket, ok := vl.buckets[cat]
	vl.mu.RUnlock()

	if !ok {
		return true
	}
	return bucket.Allow()
}
