package gacha

import "github.com/leoodz/fable/internal/domain"

// Пороги популярности, разделяющие тиры редкости. Популярность ниже первого
// порога даёт одну звезду, выше последнего — пять.
const (
	tier2Threshold = 5_000
	tier3Threshold = 59_999
	tier4Threshold = 199_999
	tier5Threshold = 399_999
)

// RarityBracket возвращает диапазон популярности, определяющий редкость.
// Используется пулл-резолвером для гарантированных розыгрышей.
func RarityBracket(stars int) domain.Bracket {
	switch Fixed(stars) {
	case 1:
		return domain.Bracket{Lo: 0, Hi: tier2Threshold}
	case 2:
		return domain.Bracket{Lo: tier2Threshold, Hi: tier3Threshold}
	case 3:
		return domain.Bracket{Lo: tier3Threshold, Hi: tier4Threshold}
	case 4:
		return domain.Bracket{Lo: tier4Threshold, Hi: tier5Threshold}
	default:
		return domain.Bracket{Lo: tier5Threshold}
	}
}

// Fixed приводит явно заданное число звёзд в допустимый диапазон.
func Fixed(stars int) int {
	if stars < 1 {
		return 1
	}
	if stars > 5 {
		return 5
	}
	return stars
}

// Rate вычисляет рейтинг персонажа по роли и популярности основного тайтла.
// Главные роли получают тир выше независимой от роли сетки, фоновые не
// поднимаются выше двух звёзд, второстепенные используют сетку как есть.
// Асимметрия намеренная: она награждает популярных протагонистов и не даёт
// второстепенным персонажам добраться до верхней редкости на одной лишь
// популярности тайтла.
func Rate(role domain.Role, popularity int) int {
	if popularity <= 0 {
		return 1
	}

	base := popularityTier(popularity)
	switch role {
	case domain.RoleMain:
		if base >= 5 {
			return 5
		}
		return base + 1
	case domain.RoleBackground:
		if base > 2 {
			return 2
		}
		return base
	default:
		return base
	}
}

// RateEdge вычисляет рейтинг по основному медиа-ребру персонажа.
func RateEdge(edge domain.MediaEdge) int {
	if edge.Media.Popularity == nil {
		return 1
	}
	return Rate(edge.Role, *edge.Media.Popularity)
}

func popularityTier(popularity int) int {
	switch {
	case popularity < tier2Threshold:
		return 1
	case popularity < tier3Threshold:
		return 2
	case popularity < tier4Threshold:
		return 3
	case popularity < tier5Threshold:
		return 4
	default:
		return 5
	}
}
