package synthesis

import (
	"fmt"

	"github.com/leoodz/fable/internal/domain"
)

// Mode задаёт способ выбора целевой редкости синтеза.
type Mode string

const (
	// ModeTarget — явная целевая редкость.
	ModeTarget Mode = "target"
	// ModeMin — самый дешёвый возможный апгрейд.
	ModeMin Mode = "min"
	// ModeMax — самый дорогой возможный апгрейд.
	ModeMax Mode = "max"
)

// groupSize — сколько "возможностей" младшего тира складываются в одну
// возможность старшего.
const groupSize = 5

// Group разбивает коллекцию по рейтингу и подбирает группу жертв для
// запрошенной редкости. Пятизвёздочные карты складываются в корзину четвёртого
// тира: шестизвёздочных карт не существует, так что верхний тир — это сырьё
// уровня четырёх звёзд для целей сворачивания.
func Group(owned []domain.InventoryCharacter, mode Mode, target int) (domain.SacrificeGroup, error) {
	buckets := make(map[int][]domain.InventoryCharacter, 4)
	for _, card := range owned {
		rating := card.Rating
		if rating >= 5 {
			rating = 4
		}
		if rating < 1 {
			rating = 1
		}
		buckets[rating] = append(buckets[rating], card)
	}

	if mode == ModeTarget && (target < 2 || target > 5) {
		return domain.SacrificeGroup{}, fmt.Errorf("bad merge target %d", target)
	}

	// possibilities[t] — упорядоченные группы, каждая из которых может стать
	// одной картой тира t. Одиночная карта тира t — возможность размера один;
	// пять возможностей тира t-1, сложенные вместе, — возможность тира t.
	possibilities := make(map[int][][]domain.InventoryCharacter, 5)
	for _, card := range buckets[1] {
		possibilities[1] = append(possibilities[1], []domain.InventoryCharacter{card})
	}

	for tier := 2; tier <= 5; tier++ {
		prev := possibilities[tier-1]
		for chunk := 0; chunk+groupSize <= len(prev); chunk += groupSize {
			var combined []domain.InventoryCharacter
			for _, group := range prev[chunk : chunk+groupSize] {
				combined = append(combined, group...)
			}
			possibilities[tier] = append(possibilities[tier], combined)
		}
		if tier < 5 {
			for _, card := range buckets[tier] {
				possibilities[tier] = append(possibilities[tier], []domain.InventoryCharacter{card})
			}
		}
		if mode == ModeTarget && tier == target && firstViable(possibilities[tier]) != nil {
			break
		}
	}

	resolved := target
	switch mode {
	case ModeMin:
		resolved = 0
		for tier := 5; tier >= 2; tier-- {
			if firstViable(possibilities[tier]) != nil {
				resolved = tier
			}
		}
	case ModeMax:
		resolved = 0
		for tier := 2; tier <= 5; tier++ {
			if firstViable(possibilities[tier]) != nil {
				resolved = tier
			}
		}
	}
	if resolved == 0 {
		return domain.SacrificeGroup{}, domain.ErrMergeNotPossible
	}

	group := firstViable(possibilities[resolved])
	if group == nil {
		return domain.SacrificeGroup{}, &domain.InsufficientSacrificesError{
			Have:   len(possibilities[resolved-1]),
			Need:   groupSize,
			Target: resolved,
		}
	}

	// Возвращается вся первая подходящая возможность, даже если в ней больше
	// пяти карт: резать её — забота вызывающего слоя.
	return domain.SacrificeGroup{Sacrifices: group, Target: resolved}, nil
}

// firstViable возвращает первую возможность, набравшую полную группу.
func firstViable(groups [][]domain.InventoryCharacter) []domain.InventoryCharacter {
	for _, g := range groups {
		if len(g) >= groupSize {
			return g
		}
	}
	return nil
}
