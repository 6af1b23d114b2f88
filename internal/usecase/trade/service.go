package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
	"github.com/leoodz/fable/internal/usecase/inventory"
)

// Service — оркестратор обмена картами между двумя участниками гильдии.
type Service struct {
	inventory domain.InventoryRepo
	log       zerolog.Logger
}

// NewService создаёт сервис обмена.
func NewService(inv domain.InventoryRepo, log zerolog.Logger) *Service {
	return &Service{inventory: inv, log: log}
}

// Offer описывает обмен: give уходят от инициатора к адресату, take — обратно.
type Offer struct {
	GuildID string
	FromID  string
	ToID    string
	Give    []string
	Take    []string
}

// Execute выполняет обмен одной атомарной условной записью по версиям обоих
// инвентарей. Карты из партии любой из сторон обменять нельзя.
func (s *Service) Execute(ctx context.Context, offer Offer) error {
	if len(offer.Give) == 0 && len(offer.Take) == 0 {
		return errors.New("empty trade")
	}

	for attempt := 0; attempt < inventory.MaxAttempts; attempt++ {
		from, err := s.inventory.GetInventory(ctx, offer.GuildID, offer.FromID)
		if err != nil {
			return fmt.Errorf("get inventory: %w", err)
		}
		to, err := s.inventory.GetInventory(ctx, offer.GuildID, offer.ToID)
		if err != nil {
			return fmt.Errorf("get inventory: %w", err)
		}

		giveIDs, err := s.checkOwnership(ctx, offer.GuildID, offer.FromID, from, offer.Give)
		if err != nil {
			return err
		}
		takeIDs, err := s.checkOwnership(ctx, offer.GuildID, offer.ToID, to, offer.Take)
		if err != nil {
			return err
		}

		expectedFrom, expectedTo := from.Version, to.Version
		from.Version++
		to.Version++

		err = s.inventory.CommitTrade(ctx, from, to, expectedFrom, expectedTo, giveIDs, takeIDs)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		s.log.Info().
			Str("guild", offer.GuildID).
			Str("from", offer.FromID).
			Str("to", offer.ToID).
			Int("give", len(giveIDs)).
			Int("take", len(takeIDs)).
			Msg("обмен выполнен")
		return nil
	}
	return domain.ErrConcurrencyExhausted
}

// checkOwnership сверяет владение и защиту партии, возвращая внутренние
// идентификаторы карт.
func (s *Service) checkOwnership(ctx context.Context, guildID, userID string, inv domain.Inventory, characterIDs []string) ([]string, error) {
	ids := make([]string, 0, len(characterIDs))
	for _, characterID := range characterIDs {
		card, err := s.inventory.FindCharacter(ctx, guildID, characterID)
		if err != nil {
			return nil, err
		}
		if card.UserID != userID {
			return nil, domain.ErrCharacterNotOwned
		}
		if inv.InParty(card.CharacterID) {
			return nil, domain.ErrCharacterProtected
		}
		ids = append(ids, card.ID)
	}
	return ids, nil
}
