package gacha

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
)

// PoolBuilder собирает дедуплицированный набор кандидатов для розыгрыша,
// объединяя предрасчитанный кэш каталога с персонажами установленных паков.
type PoolBuilder struct {
	cache domain.BracketCache
	packs domain.PackRegistry
	log   zerolog.Logger
}

// NewPoolBuilder создаёт сборщик пулов.
func NewPoolBuilder(cache domain.BracketCache, packs domain.PackRegistry, log zerolog.Logger) *PoolBuilder {
	return &PoolBuilder{cache: cache, packs: packs, log: log}
}

// BuildPool собирает пул для разыгранного диапазона и роли. Пустой результат
// не является ошибкой этого слоя: решение принимает пулл-резолвер.
func (b *PoolBuilder) BuildPool(ctx context.Context, rng *rand.Rand, guildID string, bracket domain.Bracket, role domain.Role) ([]domain.PoolEntry, error) {
	cached, err := b.cache.Pool(ctx, bracket, domain.BucketForRole(role))
	if err != nil {
		return nil, fmt.Errorf("bracket cache: %w", err)
	}

	packEntries, err := b.packEntries(ctx, guildID, func(entryRole domain.Role, popularity, _ int) bool {
		if role != "" && entryRole != role {
			return false
		}
		return bracket.Contains(popularity)
	})
	if err != nil {
		return nil, err
	}

	return dedupe(shuffle(rng, append(cached, packEntries...)), 0), nil
}

// BuildPoolExact собирает пул для точной редкости: сканируются корзины ALL всех
// диапазонов плюс персонажи паков с совпавшим рейтингом.
func (b *PoolBuilder) BuildPoolExact(ctx context.Context, rng *rand.Rand, guildID string, stars int) ([]domain.PoolEntry, error) {
	stars = Fixed(stars)

	var merged []domain.PoolEntry
	for _, choice := range BracketTable {
		cached, err := b.cache.Pool(ctx, choice.Value, domain.BucketAll)
		if err != nil {
			return nil, fmt.Errorf("bracket cache: %w", err)
		}
		merged = append(merged, cached...)
	}

	packEntries, err := b.packEntries(ctx, guildID, func(_ domain.Role, _, rating int) bool {
		return rating == stars
	})
	if err != nil {
		return nil, err
	}

	return dedupe(shuffle(rng, append(merged, packEntries...)), stars), nil
}

// packEntries агрегирует персонажей установленных паков на лету. Персонаж
// разрешается по первому медиа-ребру; записи без популярности и взрослые
// тайтлы в пулы не попадают.
func (b *PoolBuilder) packEntries(ctx context.Context, guildID string, keep func(role domain.Role, popularity, rating int) bool) ([]domain.PoolEntry, error) {
	packs, err := b.packs.ListInstalled(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("installed packs: %w", err)
	}

	var entries []domain.PoolEntry
	for _, pack := range packs {
		for _, char := range pack.Characters {
			edge, ok := char.PrimaryEdge()
			if !ok || edge.Media.Popularity == nil || edge.Media.Adult {
				continue
			}
			rating := RateEdge(edge)
			if !keep(edge.Role, *edge.Media.Popularity, rating) {
				continue
			}
			entries = append(entries, domain.PoolEntry{
				ID:      char.Key(),
				MediaID: edge.Media.Key(),
				Rating:  rating,
			})
		}
	}
	return entries, nil
}

// shuffle перемешивает пул перед фильтром уникальности. Это гарантирует, что
// карта, пережившая правило "первый выигрывает" для перенаселённого тайтла,
// выбирается случайно, а не порядком конкатенации источников.
func shuffle(rng *rand.Rand, entries []domain.PoolEntry) []domain.PoolEntry {
	rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	return entries
}

// dedupe оставляет не больше одной записи на тайтл; при exactStars > 0
// отбрасывает записи другого рейтинга.
func dedupe(entries []domain.PoolEntry, exactStars int) []domain.PoolEntry {
	seen := make(map[string]struct{}, len(entries))
	filtered := entries[:0]
	for _, e := range entries {
		if exactStars > 0 && e.Rating != exactStars {
			continue
		}
		if _, ok := seen[e.MediaID]; ok {
			continue
		}
		seen[e.MediaID] = struct{}{}
		filtered = append(filtered, e)
	}
	return filtered
}
