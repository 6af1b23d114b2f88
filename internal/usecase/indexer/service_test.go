package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
)

type pagedCatalog struct {
	media        map[int]domain.MediaPage
	characters   map[string]map[int]domain.CharacterPage
	mediaLimited int // столько первых запросов тайтлов отбиваются rate limit
	mediaCalls   int
}

func (c *pagedCatalog) MediaByPopularity(_ context.Context, _ domain.Bracket, page int) (domain.MediaPage, error) {
	c.mediaCalls++
	if c.mediaLimited > 0 {
		c.mediaLimited--
		return domain.MediaPage{}, domain.ErrRateLimited
	}
	return c.media[page], nil
}

func (c *pagedCatalog) CharactersByMedia(_ context.Context, mediaID string, page int) (domain.CharacterPage, error) {
	return c.characters[mediaID][page], nil
}

func (c *pagedCatalog) CharacterByID(context.Context, string) (domain.Character, error) {
	return domain.Character{}, domain.ErrCharacterNotFound
}

type memBracketCache struct {
	mu     sync.Mutex
	stored map[string]map[domain.PoolBucket][]domain.PoolEntry
}

func (m *memBracketCache) Pool(_ context.Context, bracket domain.Bracket, bucket domain.PoolBucket) ([]domain.PoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[bracket.Key()][bucket], nil
}

func (m *memBracketCache) Store(_ context.Context, bracket domain.Bracket, buckets map[domain.PoolBucket][]domain.PoolEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = make(map[string]map[domain.PoolBucket][]domain.PoolEntry)
	}
	m.stored[bracket.Key()] = buckets
	return nil
}

func (m *memBracketCache) storedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

type memQueue struct {
	jobs chan domain.RebuildJob
}

func newMemQueue(jobs ...domain.RebuildJob) *memQueue {
	q := &memQueue{jobs: make(chan domain.RebuildJob, 16)}
	for _, job := range jobs {
		q.jobs <- job
	}
	return q
}

func (q *memQueue) Enqueue(_ context.Context, job domain.RebuildJob) error {
	q.jobs <- job
	return nil
}

func (q *memQueue) Pop(ctx context.Context) (domain.RebuildJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return domain.RebuildJob{}, ctx.Err()
	}
}

func catalogChar(id, mediaID string, role domain.Role, popularity int) domain.Character {
	pop := popularity
	return domain.Character{
		PackID: domain.PackAniList,
		ID:     id,
		Name:   "char-" + id,
		Media: []domain.MediaEdge{{
			Role:  role,
			Media: domain.Media{PackID: domain.PackAniList, ID: mediaID, Popularity: &pop},
		}},
	}
}

func TestRebuildBracket(t *testing.T) {
	pop := 10_000
	catalog := &pagedCatalog{
		media: map[int]domain.MediaPage{
			1: {Media: []domain.Media{{PackID: domain.PackAniList, ID: "10", Popularity: &pop}}, HasNextPage: true},
			2: {Media: []domain.Media{{PackID: domain.PackAniList, ID: "11", Popularity: &pop}}},
		},
		characters: map[string]map[int]domain.CharacterPage{
			"10": {1: {Characters: []domain.Character{
				catalogChar("1", "10", domain.RoleMain, 10_000),
				catalogChar("2", "10", domain.RoleSupporting, 10_000),
				// Основное ребро указывает на другой тайтл: в пул не попадает.
				catalogChar("3", "99", domain.RoleMain, 10_000),
			}}},
			"11": {1: {Characters: []domain.Character{
				catalogChar("4", "11", domain.RoleBackground, 10_000),
			}}},
		},
	}
	cache := &memBracketCache{}
	svc := NewService(catalog, cache, zerolog.Nop())

	bracket := domain.Bracket{Lo: 0, Hi: 50_000}
	if err := svc.RebuildBracket(context.Background(), bracket); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	buckets := cache.stored[bracket.Key()]
	if len(buckets[domain.BucketAll]) != 3 {
		t.Fatalf("ожидали 3 записи в ALL, получили %d", len(buckets[domain.BucketAll]))
	}
	if len(buckets[domain.BucketMain]) != 1 || len(buckets[domain.BucketSupporting]) != 1 || len(buckets[domain.BucketBackground]) != 1 {
		t.Fatalf("записи должны разложиться по ролям: %+v", buckets)
	}
	if buckets[domain.BucketMain][0].Rating != 3 {
		t.Fatalf("главная роль во втором тире должна дать 3★, получили %d", buckets[domain.BucketMain][0].Rating)
	}
}

func TestRebuildBracketRetriesAfterRateLimit(t *testing.T) {
	pop := 10_000
	catalog := &pagedCatalog{
		media: map[int]domain.MediaPage{
			1: {Media: []domain.Media{{PackID: domain.PackAniList, ID: "10", Popularity: &pop}}},
		},
		characters: map[string]map[int]domain.CharacterPage{
			"10": {1: {Characters: []domain.Character{catalogChar("1", "10", domain.RoleMain, 10_000)}}},
		},
		mediaLimited: 2,
	}
	cache := &memBracketCache{}
	svc := NewService(catalog, cache, zerolog.Nop())

	var pauses []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) { pauses = append(pauses, d) }

	bracket := domain.Bracket{Lo: 0, Hi: 50_000}
	if err := svc.RebuildBracket(context.Background(), bracket); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(pauses) != 2 {
		t.Fatalf("ожидали две паузы, получили %d", len(pauses))
	}
	for _, d := range pauses {
		if d != rateLimitPause {
			t.Fatalf("пауза должна быть фиксированной минутой, получили %v", d)
		}
	}
	if len(cache.stored[bracket.Key()][domain.BucketAll]) != 1 {
		t.Fatalf("после пауз пересборка должна завершиться")
	}
}

func TestEnqueueAll(t *testing.T) {
	queue := newMemQueue()
	if err := EnqueueAll(context.Background(), queue); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 5 {
		t.Fatalf("ожидали 5 задач по числу диапазонов, получили %d", len(queue.jobs))
	}
}

func TestRunProcessesQueue(t *testing.T) {
	pop := 10_000
	catalog := &pagedCatalog{
		media: map[int]domain.MediaPage{
			1: {Media: []domain.Media{{PackID: domain.PackAniList, ID: "10", Popularity: &pop}}},
		},
		characters: map[string]map[int]domain.CharacterPage{
			"10": {1: {Characters: []domain.Character{catalogChar("1", "10", domain.RoleMain, 10_000)}}},
		},
	}
	cache := &memBracketCache{}
	svc := NewService(catalog, cache, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	queue := newMemQueue(domain.RebuildJob{Bracket: domain.Bracket{Lo: 0, Hi: 50_000}})

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, queue) }()

	deadline := time.After(2 * time.Second)
	for cache.storedCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("задача из очереди не обработана")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
}
