package trade

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
)

type memRepo struct {
	inventories map[string]domain.Inventory
	cards       []domain.InventoryCharacter
	conflicts   int
}

func newMemRepo() *memRepo {
	return &memRepo{inventories: make(map[string]domain.Inventory)}
}

func (m *memRepo) GetInventory(_ context.Context, guildID, userID string) (domain.Inventory, error) {
	key := guildID + "/" + userID
	inv, ok := m.inventories[key]
	if !ok {
		inv = domain.Inventory{GuildID: guildID, UserID: userID}
		m.inventories[key] = inv
	}
	return inv, nil
}

func (m *memRepo) ListCharacters(context.Context, string, string) ([]domain.InventoryCharacter, error) {
	return m.cards, nil
}

func (m *memRepo) FindCharacter(_ context.Context, guildID, characterID string) (domain.InventoryCharacter, error) {
	for _, c := range m.cards {
		if c.GuildID == guildID && c.CharacterID == characterID {
			return c, nil
		}
	}
	return domain.InventoryCharacter{}, domain.ErrCharacterNotFound
}

func (m *memRepo) commit(inv domain.Inventory, expected int64) error {
	key := inv.GuildID + "/" + inv.UserID
	if m.inventories[key].Version != expected {
		return domain.ErrVersionConflict
	}
	m.inventories[key] = inv
	return nil
}

func (m *memRepo) CommitInventory(_ context.Context, inv domain.Inventory, expected int64) error {
	return m.commit(inv, expected)
}

func (m *memRepo) CommitPull(_ context.Context, inv domain.Inventory, expected int64, _ domain.InventoryCharacter) error {
	return m.commit(inv, expected)
}

func (m *memRepo) CommitMerge(_ context.Context, inv domain.Inventory, expected int64, _ []string) error {
	return m.commit(inv, expected)
}

func (m *memRepo) CommitTrade(_ context.Context, give, take domain.Inventory, expectedGive, expectedTake int64, giveCards, takeCards []string) error {
	if m.conflicts > 0 {
		m.conflicts--
		key := give.GuildID + "/" + give.UserID
		stored := m.inventories[key]
		stored.Version++
		m.inventories[key] = stored
		return domain.ErrVersionConflict
	}
	if err := m.commit(give, expectedGive); err != nil {
		return err
	}
	if err := m.commit(take, expectedTake); err != nil {
		return err
	}
	move := func(ids []string, toUser string) {
		for _, id := range ids {
			for i := range m.cards {
				if m.cards[i].ID == id {
					m.cards[i].UserID = toUser
				}
			}
		}
	}
	move(giveCards, take.UserID)
	move(takeCards, give.UserID)
	return nil
}

func (m *memRepo) ListLikes(context.Context, string, string, string) ([]string, error) {
	return nil, nil
}

func card(id, userID, characterID string) domain.InventoryCharacter {
	return domain.InventoryCharacter{ID: id, GuildID: "g1", UserID: userID, CharacterID: characterID, Rating: 2}
}

func TestExecuteSwapsCards(t *testing.T) {
	repo := newMemRepo()
	repo.cards = []domain.InventoryCharacter{
		card("c1", "alice", "anilist:1"),
		card("c2", "bob", "anilist:2"),
	}
	svc := NewService(repo, zerolog.Nop())

	err := svc.Execute(context.Background(), Offer{
		GuildID: "g1", FromID: "alice", ToID: "bob",
		Give: []string{"anilist:1"}, Take: []string{"anilist:2"},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if repo.cards[0].UserID != "bob" || repo.cards[1].UserID != "alice" {
		t.Fatalf("карты должны поменять владельцев: %+v", repo.cards)
	}
	if repo.inventories["g1/alice"].Version != 1 || repo.inventories["g1/bob"].Version != 1 {
		t.Fatalf("версии обоих инвентарей должны увеличиться")
	}
}

func TestExecuteOneSided(t *testing.T) {
	repo := newMemRepo()
	repo.cards = []domain.InventoryCharacter{card("c1", "alice", "anilist:1")}
	svc := NewService(repo, zerolog.Nop())

	err := svc.Execute(context.Background(), Offer{
		GuildID: "g1", FromID: "alice", ToID: "bob", Give: []string{"anilist:1"},
	})
	if err != nil {
		t.Fatalf("односторонний подарок допустим: %v", err)
	}
	if repo.cards[0].UserID != "bob" {
		t.Fatalf("карта должна перейти адресату")
	}
}

func TestExecuteEmptyOffer(t *testing.T) {
	svc := NewService(newMemRepo(), zerolog.Nop())
	if err := svc.Execute(context.Background(), Offer{GuildID: "g1", FromID: "a", ToID: "b"}); err == nil {
		t.Fatalf("пустой обмен должен отклоняться")
	}
}

func TestExecuteRejectsForeignCard(t *testing.T) {
	repo := newMemRepo()
	repo.cards = []domain.InventoryCharacter{card("c1", "carol", "anilist:1")}
	svc := NewService(repo, zerolog.Nop())

	err := svc.Execute(context.Background(), Offer{
		GuildID: "g1", FromID: "alice", ToID: "bob", Give: []string{"anilist:1"},
	})
	if !errors.Is(err, domain.ErrCharacterNotOwned) {
		t.Fatalf("чужую карту отдать нельзя: %v", err)
	}
}

func TestExecuteProtectsParty(t *testing.T) {
	repo := newMemRepo()
	repo.cards = []domain.InventoryCharacter{card("c1", "alice", "anilist:1")}
	repo.inventories["g1/alice"] = domain.Inventory{GuildID: "g1", UserID: "alice", Party: []string{"anilist:1"}}
	svc := NewService(repo, zerolog.Nop())

	err := svc.Execute(context.Background(), Offer{
		GuildID: "g1", FromID: "alice", ToID: "bob", Give: []string{"anilist:1"},
	})
	if !errors.Is(err, domain.ErrCharacterProtected) {
		t.Fatalf("карта из партии защищена: %v", err)
	}
}

func TestExecuteRetriesOnConflict(t *testing.T) {
	repo := newMemRepo()
	repo.cards = []domain.InventoryCharacter{card("c1", "alice", "anilist:1")}
	repo.conflicts = 2
	svc := NewService(repo, zerolog.Nop())

	err := svc.Execute(context.Background(), Offer{
		GuildID: "g1", FromID: "alice", ToID: "bob", Give: []string{"anilist:1"},
	})
	if err != nil {
		t.Fatalf("после конфликтов обмен должен пройти: %v", err)
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	repo := newMemRepo()
	repo.cards = []domain.InventoryCharacter{card("c1", "alice", "anilist:1")}
	repo.conflicts = 100
	svc := NewService(repo, zerolog.Nop())

	err := svc.Execute(context.Background(), Offer{
		GuildID: "g1", FromID: "alice", ToID: "bob", Give: []string{"anilist:1"},
	})
	if !errors.Is(err, domain.ErrConcurrencyExhausted) {
		t.Fatalf("ожидали ErrConcurrencyExhausted, получили %v", err)
	}
}
