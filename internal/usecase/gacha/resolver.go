package gacha

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
	"github.com/leoodz/fable/internal/infra/metrics"
	"github.com/leoodz/fable/internal/usecase/inventory"
)

// maxSampleAttempts ограничивает число полных перерозыгрышей переменных после
// пустого пула или провалившего повторную проверку кандидата.
const maxSampleAttempts = 5

// Resolver оркестрирует розыгрыш: сэмплирование переменных, сборку пула,
// повторную проверку кандидата по живым данным и атомарную запись результата в
// инвентарь.
type Resolver struct {
	pool      *PoolBuilder
	catalog   domain.CatalogClient
	packs     domain.PackRegistry
	inventory domain.InventoryRepo
	log       zerolog.Logger
	maxPulls  int
	recharge  time.Duration
	now       func() time.Time
}

// NewResolver создаёт пулл-резолвер.
func NewResolver(pool *PoolBuilder, catalog domain.CatalogClient, packs domain.PackRegistry, inv domain.InventoryRepo, log zerolog.Logger, maxPulls int, recharge time.Duration) *Resolver {
	return &Resolver{
		pool:      pool,
		catalog:   catalog,
		packs:     packs,
		inventory: inv,
		log:       log,
		maxPulls:  maxPulls,
		recharge:  recharge,
		now:       time.Now,
	}
}

// PullRequest описывает один розыгрыш. Пустой UserID означает анонимный
// превью-пулл без записи в инвентарь. Stars > 0 фиксирует редкость и требует
// токен гарантии при коммите.
type PullRequest struct {
	GuildID string
	UserID  string
	Stars   int
	RNG     *rand.Rand
}

// Pull выполняет полный цикл розыгрыша.
func (r *Resolver) Pull(ctx context.Context, req PullRequest) (domain.Pull, error) {
	rng := req.RNG
	if rng == nil {
		rng = NewRNG()
	}

	candidate, err := r.drawCandidate(ctx, rng, req)
	if err != nil {
		metrics.PullTotal.WithLabelValues("pool_error").Inc()
		return domain.Pull{}, err
	}

	if req.UserID == "" {
		metrics.PullTotal.WithLabelValues("preview").Inc()
		return domain.Pull{
			Card:      candidate.card,
			Character: candidate.character,
			Media:     candidate.edge.Media,
		}, nil
	}

	pull, err := r.commit(ctx, req, candidate)
	if err != nil {
		metrics.PullTotal.WithLabelValues("rejected").Inc()
		return domain.Pull{}, err
	}
	metrics.PullTotal.WithLabelValues("committed").Inc()
	return pull, nil
}

// candidate — результат фаз SAMPLING → POOL_BUILT → VALIDATED.
type candidate struct {
	card      domain.InventoryCharacter
	character domain.Character
	edge      domain.MediaEdge
}

// drawCandidate разыгрывает переменные, собирает пул и повторно проверяет
// выбранного кандидата. Провал любой фазы приводит к перерозыгрышу переменных
// с нуля, ограниченному потолком попыток.
func (r *Resolver) drawCandidate(ctx context.Context, rng *rand.Rand, req PullRequest) (candidate, error) {
	var lastErr error

	for attempt := 0; attempt < maxSampleAttempts; attempt++ {
		var (
			bracket domain.Bracket
			role    domain.Role
			pool    []domain.PoolEntry
			err     error
		)

		if req.Stars > 0 {
			bracket = RarityBracket(req.Stars)
			pool, err = r.pool.BuildPoolExact(ctx, rng, req.GuildID, req.Stars)
		} else {
			bracketChoice, serr := Sample(BracketTable, rng)
			if serr != nil {
				return candidate{}, serr
			}
			roleChoice, serr := Sample(RoleTable, rng)
			if serr != nil {
				return candidate{}, serr
			}
			bracket, role = bracketChoice.Value, roleChoice.Value
			pool, err = r.pool.BuildPool(ctx, rng, req.GuildID, bracket, role)
		}
		if err != nil {
			return candidate{}, err
		}

		if len(pool) == 0 {
			metrics.PoolEmptyTotal.Inc()
			lastErr = &domain.PoolError{Bracket: bracket, Role: role, Stars: req.Stars}
			continue
		}

		entry := pool[rng.IntN(len(pool))]
		cand, err := r.validate(ctx, req, entry, bracket, role)
		if err != nil {
			var poolErr *domain.PoolError
			if errors.As(err, &poolErr) {
				lastErr = err
				continue
			}
			return candidate{}, err
		}
		return cand, nil
	}
	return candidate{}, lastErr
}

// validate перепроверяет кандидата по живым данным каталога и паков. Кэш
// диапазонов может отставать от каталога, поэтому разыгранные переменные
// сверяются заново; любое расхождение — PoolError.
func (r *Resolver) validate(ctx context.Context, req PullRequest, entry domain.PoolEntry, bracket domain.Bracket, role domain.Role) (candidate, error) {
	char, err := r.resolveCharacter(ctx, req.GuildID, entry.ID)
	if err != nil {
		if errors.Is(err, domain.ErrCharacterNotFound) {
			return candidate{}, &domain.PoolError{Bracket: bracket, Role: role, Stars: req.Stars}
		}
		return candidate{}, err
	}

	edge, ok := char.PrimaryEdge()
	if !ok || edge.Media.Popularity == nil || edge.Media.Adult {
		return candidate{}, &domain.PoolError{Bracket: bracket, Role: role, Stars: req.Stars}
	}

	for _, id := range []string{char.Key(), edge.Media.Key()} {
		disabled, derr := r.packs.IsDisabled(ctx, req.GuildID, id)
		if derr != nil {
			return candidate{}, fmt.Errorf("disabled check: %w", derr)
		}
		if disabled {
			return candidate{}, &domain.PoolError{Bracket: bracket, Role: role, Stars: req.Stars}
		}
	}

	rating := RateEdge(edge)
	if req.Stars > 0 {
		if rating != Fixed(req.Stars) {
			return candidate{}, &domain.PoolError{Stars: req.Stars}
		}
	} else {
		if !bracket.Contains(*edge.Media.Popularity) || (role != "" && edge.Role != role) {
			return candidate{}, &domain.PoolError{Bracket: bracket, Role: role}
		}
	}

	// Рейтинг и тайтл фиксируются по первому ребру в момент пулла: дальнейшие
	// перестановки рёбер в каталоге карту не меняют.
	card := domain.InventoryCharacter{
		ID:          uuid.NewString(),
		GuildID:     req.GuildID,
		UserID:      req.UserID,
		CharacterID: char.Key(),
		MediaID:     edge.Media.Key(),
		Rating:      rating,
		ImageURL:    char.ImageURL,
		CreatedAt:   r.now(),
	}
	return candidate{card: card, character: char, edge: edge}, nil
}

// resolveCharacter разворачивает ссылку в полную форму: персонажи паков ищутся
// в манифестах гильдии, остальные запрашиваются у каталога.
func (r *Resolver) resolveCharacter(ctx context.Context, guildID, key string) (domain.Character, error) {
	ref, err := domain.ParseRef(key)
	if err != nil {
		return domain.Character{}, err
	}

	if ref.PackID == domain.PackAniList {
		char, err := r.catalog.CharacterByID(ctx, ref.ID)
		if err != nil {
			return domain.Character{}, fmt.Errorf("catalog character %s: %w", key, err)
		}
		return char, nil
	}

	packs, err := r.packs.ListInstalled(ctx, guildID)
	if err != nil {
		return domain.Character{}, fmt.Errorf("installed packs: %w", err)
	}
	for _, pack := range packs {
		if pack.ID != ref.PackID {
			continue
		}
		for _, char := range pack.Characters {
			if char.ID == ref.ID {
				return char, nil
			}
		}
	}
	return domain.Character{}, domain.ErrCharacterNotFound
}

// commit — фаза COMMITTED: атомарное списание бюджета (или токена гарантии) и
// вставка карты под защитой версии инвентаря.
func (r *Resolver) commit(ctx context.Context, req PullRequest, cand candidate) (domain.Pull, error) {
	now := r.now()
	card := cand.card

	inv, err := inventory.Update(ctx, r.inventory, req.GuildID, req.UserID, func(ctx context.Context, inv *domain.Inventory, expected int64) error {
		inventory.Refill(inv, now, r.maxPulls, r.recharge)

		if req.Stars > 0 {
			if !inv.ConsumeGuarantee(Fixed(req.Stars)) {
				return &domain.NoGuaranteeError{Stars: Fixed(req.Stars)}
			}
			last := now
			inv.LastPullAt = &last
		} else {
			if inv.AvailablePulls <= 0 {
				return &domain.NoPullsError{RechargeAt: inventory.NextPullAt(*inv, now, r.recharge)}
			}
			inventory.SpendPull(inv, now)
		}

		return r.inventory.CommitPull(ctx, *inv, expected, card)
	})
	if err != nil {
		return domain.Pull{}, err
	}

	likedBy, err := r.inventory.ListLikes(ctx, req.GuildID, card.CharacterID, req.UserID)
	if err != nil {
		// Уведомления о лайках не критичны для результата пулла.
		r.log.Warn().Err(err).Str("character", card.CharacterID).Msg("не удалось получить лайки")
		likedBy = nil
	}

	return domain.Pull{
		Card:       card,
		Character:  cand.character,
		Media:      cand.edge.Media,
		Remaining:  inv.AvailablePulls,
		Guarantees: inv.Guarantees,
		LikedBy:    likedBy,
		Committed:  true,
	}, nil
}
