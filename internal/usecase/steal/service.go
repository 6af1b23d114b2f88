package steal

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
	"github.com/leoodz/fable/internal/infra/metrics"
	"github.com/leoodz/fable/internal/usecase/gacha"
	"github.com/leoodz/fable/internal/usecase/inventory"
)

// baseChances — шанс кражи в процентах по рейтингу карты.
var baseChances = map[int]int{1: 90, 2: 50, 3: 25, 4: 5, 5: 1}

// inactivityBonus добавляется к шансу, когда владелец давно не играл.
const inactivityBonus = 25

// maxChance — потолок итогового шанса.
const maxChance = 90

// Service — оркестратор кражи карты у другого участника гильдии.
type Service struct {
	inventory  domain.InventoryRepo
	log        zerolog.Logger
	cooldown   time.Duration
	inactivity time.Duration
	now        func() time.Time
}

// NewService создаёт сервис кражи.
func NewService(inv domain.InventoryRepo, log zerolog.Logger, cooldown, inactivity time.Duration) *Service {
	return &Service{inventory: inv, log: log, cooldown: cooldown, inactivity: inactivity, now: time.Now}
}

// Result — исход одной попытки кражи.
type Result struct {
	Success    bool
	Chance     int
	Card       domain.InventoryCharacter
	CooldownAt time.Time
}

// Chance возвращает итоговый шанс кражи карты с учётом неактивности владельца.
func Chance(rating int, ownerInactive bool) int {
	chance := baseChances[gacha.Fixed(rating)]
	if ownerInactive {
		chance += inactivityBonus
	}
	if chance > maxChance {
		chance = maxChance
	}
	return chance
}

// Steal пытается украсть карту. Перезарядка ставится и при успехе, и при
// провале. Карты из партии владельца защищены, пока владелец активен.
func (s *Service) Steal(ctx context.Context, guildID, thiefID, characterID string, rng *rand.Rand) (Result, error) {
	if rng == nil {
		rng = gacha.NewRNG()
	}
	now := s.now()

	thief, err := s.inventory.GetInventory(ctx, guildID, thiefID)
	if err != nil {
		return Result{}, fmt.Errorf("get inventory: %w", err)
	}
	if thief.StealCooldownAt != nil && thief.StealCooldownAt.After(now) {
		return Result{}, &domain.StealCooldownError{Until: *thief.StealCooldownAt}
	}

	card, err := s.inventory.FindCharacter(ctx, guildID, characterID)
	if err != nil {
		return Result{}, err
	}
	if card.UserID == thiefID {
		return Result{}, domain.ErrCharacterNotOwned
	}

	owner, err := s.inventory.GetInventory(ctx, guildID, card.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("get owner inventory: %w", err)
	}

	inactive := owner.LastPullAt == nil || now.Sub(*owner.LastPullAt) > s.inactivity
	if owner.InParty(card.CharacterID) && !inactive {
		return Result{}, domain.ErrCharacterProtected
	}

	chance := Chance(card.Rating, inactive)
	success := rng.IntN(100) < chance
	cooldownAt := now.Add(s.cooldown)

	if !success {
		// Провал тоже стоит перезарядки: фиксируем её через общий цикл
		// оптимистичной записи.
		_, err = inventory.Update(ctx, s.inventory, guildID, thiefID, func(ctx context.Context, inv *domain.Inventory, expected int64) error {
			inv.StealCooldownAt = &cooldownAt
			return s.inventory.CommitInventory(ctx, *inv, expected)
		})
		if err != nil {
			return Result{}, err
		}
		metrics.StealTotal.WithLabelValues("fail").Inc()
		return Result{Success: false, Chance: chance, Card: card, CooldownAt: cooldownAt}, nil
	}

	// Успех: перенос карты под защитой версий обоих инвентарей.
	for attempt := 0; attempt < inventory.MaxAttempts; attempt++ {
		thief, err = s.inventory.GetInventory(ctx, guildID, thiefID)
		if err != nil {
			return Result{}, fmt.Errorf("get inventory: %w", err)
		}
		owner, err = s.inventory.GetInventory(ctx, guildID, card.UserID)
		if err != nil {
			return Result{}, fmt.Errorf("get owner inventory: %w", err)
		}

		expectedThief, expectedOwner := thief.Version, owner.Version
		thief.Version++
		owner.Version++
		thief.StealCooldownAt = &cooldownAt

		err = s.inventory.CommitTrade(ctx, owner, thief, expectedOwner, expectedThief, []string{card.ID}, nil)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Result{}, err
		}

		metrics.StealTotal.WithLabelValues("success").Inc()
		s.log.Info().
			Str("guild", guildID).
			Str("thief", thiefID).
			Str("owner", card.UserID).
			Str("character", card.CharacterID).
			Int("chance", chance).
			Msg("кража удалась")
		return Result{Success: true, Chance: chance, Card: card, CooldownAt: cooldownAt}, nil
	}
	return Result{}, domain.ErrConcurrencyExhausted
}
