package venue

import (
	"sync"
	"time"

	"straddle/internal/models"
)

// ============ ОПТИМИЗАЦИЯ: Inline FNV-1a hash без аллокаций ============
// Константы FNV-1a для 32-битного хэша
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// fnvHash вычисляет FNV-1a hash строки БЕЗ аллокаций
// В отличие от fnv.New32a() не создаёт объект на куче:
// поток книг дёргает кэш на каждое событие
func fnvHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// BookCache - шардированный кэш срезов стакана по токенам.
//
// Писатели: websocket-поток (горутина чтения) и REST fallback из
// торгового цикла. Читатели: стратегия, расчёт нереализованного PnL,
// операторский API. Шардирование по токену снимает конкуренцию
// между несвязанными рынками.
//
// Срез после записи неизменяем: Update кладёт копию, читатели
// получают указатель и не мутируют его.
type BookCache struct {
	shards    []*bookShard
	numShards uint32
}

// bookShard - один шард с собственным мьютексом
type bookShard struct {
	books map[string]*models.OrderBookSnapshot
	mu    sync.RWMutex
}

// NewBookCache создаёт шардированный кэш
func NewBookCache(numShards int) *BookCache {
	if numShards <= 0 {
		numShards = 16 // дефолт
	}

	bc := &BookCache{
		shards:    make([]*bookShard, numShards),
		numShards: uint32(numShards),
	}

	for i := 0; i < numShards; i++ {
		bc.shards[i] = &bookShard{
			books: make(map[string]*models.OrderBookSnapshot),
		}
	}

	return bc
}

// getShard возвращает шард для токена (детерминированно)
func (bc *BookCache) getShard(tokenID string) *bookShard {
	return bc.shards[fnvHash(tokenID)%bc.numShards]
}

// Update кладёт свежий срез в кэш, замещая предыдущий целиком.
// Дельты не применяются: поток и REST присылают полные срезы.
func (bc *BookCache) Update(snapshot *models.OrderBookSnapshot) {
	if snapshot == nil || snapshot.MarketID == "" {
		return
	}

	copied := *snapshot
	shard := bc.getShard(copied.MarketID)

	shard.mu.Lock()
	shard.books[copied.MarketID] = &copied
	shard.mu.Unlock()
}

// Get возвращает последний срез по токену, nil если данных ещё не было.
// Сложность: O(1)
func (bc *BookCache) Get(tokenID string) *models.OrderBookSnapshot {
	shard := bc.getShard(tokenID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return shard.books[tokenID]
}

// GetFresh возвращает срез не старше maxAge, иначе nil.
// Устаревший срез равносилен отсутствию данных: стратегия по нему
// не решает, вызывающий идёт за REST-срезом.
func (bc *BookCache) GetFresh(tokenID string, maxAge time.Duration, now time.Time) *models.OrderBookSnapshot {
	snapshot := bc.Get(tokenID)
	if snapshot == nil {
		return nil
	}
	if maxAge > 0 && snapshot.Age(now) > maxAge {
		return nil
	}
	return snapshot
}

// Remove убирает срез из кэша. Вызывается когда рынок разрешён
// и его книги больше не нужны.
func (bc *BookCache) Remove(tokenID string) {
	shard := bc.getShard(tokenID)
	shard.mu.Lock()
	delete(shard.books, tokenID)
	shard.mu.Unlock()
}

// Len возвращает количество срезов во всех шардах
func (bc *BookCache) Len() int {
	total := 0
	for _, shard := range bc.shards {
		shard.mu.RLock()
		total += len(shard.books)
		shard.mu.RUnlock()
	}
	return total
}

// TokenIDs возвращает токены всех срезов в кэше.
// Используется для переподписки потока после переподключения.
func (bc *BookCache) TokenIDs() []string {
	ids := make([]string, 0, bc.Len())
	for _, shard := range bc.shards {
		shard.mu.RLock()
		for id := range shard.books {
			ids = append(ids, id)
		}
		shard.mu.RUnlock()
	}
	return ids
}
