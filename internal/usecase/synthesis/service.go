package synthesis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
	"github.com/leoodz/fable/internal/infra/metrics"
	"github.com/leoodz/fable/internal/usecase/gacha"
	"github.com/leoodz/fable/internal/usecase/inventory"
)

// Service — оркестратор синтеза: подбирает жертв, атомарно сжигает их в обмен
// на токен гарантии и сразу разыгрывает гарантированный пулл целевой редкости.
type Service struct {
	inventory domain.InventoryRepo
	resolver  *gacha.Resolver
	log       zerolog.Logger
}

// NewService создаёт сервис синтеза.
func NewService(inv domain.InventoryRepo, resolver *gacha.Resolver, log zerolog.Logger) *Service {
	return &Service{inventory: inv, resolver: resolver, log: log}
}

// Merge выполняет синтез. Карты из партии и из списка желаемого в жертвы не
// попадают. Подбор группы повторяется внутри цикла оптимистичной записи: при
// конфликте версии коллекция перечитывается и группа строится заново, поэтому
// две пересекающиеся заявки не могут сжечь одни и те же карты.
func (s *Service) Merge(ctx context.Context, guildID, userID string, mode Mode, target int) (domain.Pull, error) {
	var group domain.SacrificeGroup

	_, err := inventory.Update(ctx, s.inventory, guildID, userID, func(ctx context.Context, inv *domain.Inventory, expected int64) error {
		owned, err := s.inventory.ListCharacters(ctx, guildID, userID)
		if err != nil {
			return fmt.Errorf("list characters: %w", err)
		}

		eligible := make([]domain.InventoryCharacter, 0, len(owned))
		for _, card := range owned {
			if inv.InParty(card.CharacterID) || inv.Liked(card.CharacterID) {
				continue
			}
			eligible = append(eligible, card)
		}

		group, err = Group(eligible, mode, target)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(group.Sacrifices))
		for _, card := range group.Sacrifices {
			ids = append(ids, card.ID)
		}
		inv.Guarantees = append(inv.Guarantees, group.Target)
		return s.inventory.CommitMerge(ctx, *inv, expected, ids)
	})
	if err != nil {
		return domain.Pull{}, err
	}

	metrics.MergeTotal.WithLabelValues(fmt.Sprint(group.Target)).Inc()
	s.log.Info().
		Str("guild", guildID).
		Str("user", userID).
		Int("target", group.Target).
		Int("sacrifices", len(group.Sacrifices)).
		Msg("синтез выполнен")

	return s.resolver.Pull(ctx, gacha.PullRequest{GuildID: guildID, UserID: userID, Stars: group.Target})
}

// Preview подбирает группу жертв без мутации инвентаря.
func (s *Service) Preview(ctx context.Context, guildID, userID string, mode Mode, target int) (domain.SacrificeGroup, error) {
	inv, err := s.inventory.GetInventory(ctx, guildID, userID)
	if err != nil {
		return domain.SacrificeGroup{}, fmt.Errorf("get inventory: %w", err)
	}
	owned, err := s.inventory.ListCharacters(ctx, guildID, userID)
	if err != nil {
		return domain.SacrificeGroup{}, fmt.Errorf("list characters: %w", err)
	}

	eligible := make([]domain.InventoryCharacter, 0, len(owned))
	for _, card := range owned {
		if inv.InParty(card.CharacterID) || inv.Liked(card.CharacterID) {
			continue
		}
		eligible = append(eligible, card)
	}
	return Group(eligible, mode, target)
}
