package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/leoodz/fable/internal/domain"
)

// MaxAttempts — бюджет повторов цикла оптимистичной записи. Два пересекающихся
// пулла или синтеза одного пользователя никогда не проходят оба по устаревшему
// бюджету: проигравший перечитывает состояние и повторяет вычисление.
const MaxAttempts = 5

// Update выполняет ограниченный цикл read-compute-conditional-write над
// инвентарём. fn получает свежую копию записи с уже инкрементированной версией
// и обязан выполнить собственно условную запись через репозиторий, передав
// expected как ожидаемую версию. Конфликт версии приводит к повтору всего
// цикла, включая перечитывание и перевычисление.
func Update(ctx context.Context, repo domain.InventoryRepo, guildID, userID string, fn func(ctx context.Context, inv *domain.Inventory, expected int64) error) (domain.Inventory, error) {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		inv, err := repo.GetInventory(ctx, guildID, userID)
		if err != nil {
			return domain.Inventory{}, fmt.Errorf("get inventory: %w", err)
		}

		expected := inv.Version
		inv.Version = expected + 1

		err = fn(ctx, &inv, expected)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return domain.Inventory{}, err
		}
		return inv, nil
	}
	return domain.Inventory{}, domain.ErrConcurrencyExhausted
}
