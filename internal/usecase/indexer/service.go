package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
	"github.com/leoodz/fable/internal/infra/metrics"
	"github.com/leoodz/fable/internal/usecase/gacha"
)

// rateLimitPause — пауза перед возобновлением пагинации после "Too Many
// Requests" от каталога.
const rateLimitPause = 60 * time.Second

// Service пересобирает предрасчитанные пулы диапазонов популярности. Работает
// вне пути пользовательских запросов.
type Service struct {
	catalog domain.CatalogClient
	cache   domain.BracketCache
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration)
}

// NewService создаёт индексер.
func NewService(catalog domain.CatalogClient, cache domain.BracketCache, log zerolog.Logger) *Service {
	return &Service{catalog: catalog, cache: cache, log: log, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// RebuildBracket перечитывает каталог по одному диапазону и сохраняет корзины
// ALL/MAIN/SUPPORTING/BACKGROUND. На rate limit спит фиксированную минуту и
// продолжает с той же страницы.
func (s *Service) RebuildBracket(ctx context.Context, bracket domain.Bracket) error {
	start := time.Now()
	buckets := map[domain.PoolBucket][]domain.PoolEntry{
		domain.BucketAll:        nil,
		domain.BucketMain:       nil,
		domain.BucketSupporting: nil,
		domain.BucketBackground: nil,
	}

	for page := 1; ; {
		mediaPage, err := s.catalog.MediaByPopularity(ctx, bracket, page)
		if errors.Is(err, domain.ErrRateLimited) {
			s.log.Warn().Str("bracket", bracket.String()).Int("page", page).Msg("каталог ограничил запросы, пауза")
			s.sleep(ctx, rateLimitPause)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("media page %d: %w", page, err)
		}

		for _, media := range mediaPage.Media {
			if media.Adult || media.Popularity == nil {
				continue
			}
			if err := s.collectMedia(ctx, media, buckets); err != nil {
				return err
			}
		}

		if !mediaPage.HasNextPage {
			break
		}
		page++
	}

	if err := s.cache.Store(ctx, bracket, buckets); err != nil {
		return fmt.Errorf("store pools: %w", err)
	}

	metrics.IndexRebuildSeconds.Observe(time.Since(start).Seconds())
	s.log.Info().
		Str("bracket", bracket.String()).
		Int("all", len(buckets[domain.BucketAll])).
		Dur("took", time.Since(start)).
		Msg("пул пересобран")
	return nil
}

// collectMedia собирает записи пула по персонажам одного тайтла. В пул
// попадают только персонажи, для которых этот тайтл является основным ребром.
func (s *Service) collectMedia(ctx context.Context, media domain.Media, buckets map[domain.PoolBucket][]domain.PoolEntry) error {
	for page := 1; ; {
		charPage, err := s.catalog.CharactersByMedia(ctx, media.ID, page)
		if errors.Is(err, domain.ErrRateLimited) {
			s.log.Warn().Str("media", media.Key()).Int("page", page).Msg("каталог ограничил запросы, пауза")
			s.sleep(ctx, rateLimitPause)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("characters of %s page %d: %w", media.Key(), page, err)
		}

		for _, char := range charPage.Characters {
			edge, ok := char.PrimaryEdge()
			if !ok || edge.Media.ID != media.ID || edge.Media.Adult || edge.Media.Popularity == nil {
				continue
			}
			entry := domain.PoolEntry{
				ID:      char.Key(),
				MediaID: edge.Media.Key(),
				Rating:  gacha.RateEdge(edge),
			}
			buckets[domain.BucketAll] = append(buckets[domain.BucketAll], entry)
			buckets[domain.BucketForRole(edge.Role)] = append(buckets[domain.BucketForRole(edge.Role)], entry)
		}

		if !charPage.HasNextPage {
			return nil
		}
		page++
	}
}

// Run обслуживает очередь задач пересборки до отмены контекста.
func (s *Service) Run(ctx context.Context, queue domain.RebuildQueue) error {
	for {
		job, err := queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("pop job: %w", err)
		}
		if err := s.RebuildBracket(ctx, job.Bracket); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error().Err(err).Str("bracket", job.Bracket.String()).Msg("пересборка пула не удалась")
		}
	}
}

// EnqueueAll ставит в очередь пересборку всех диапазонов из таблицы шансов.
func EnqueueAll(ctx context.Context, queue domain.RebuildQueue) error {
	for _, choice := range gacha.BracketTable {
		if err := queue.Enqueue(ctx, domain.RebuildJob{Bracket: choice.Value}); err != nil {
			return fmt.Errorf("enqueue %s: %w", choice.Value.String(), err)
		}
	}
	return nil
}
