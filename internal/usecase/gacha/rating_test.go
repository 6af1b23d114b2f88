package gacha

import (
	"testing"

	"github.com/leoodz/fable/internal/domain"
)

func TestRate(t *testing.T) {
	cases := []struct {
		name       string
		role       domain.Role
		popularity int
		want       int
	}{
		{"нулевая популярность", domain.RoleSupporting, 0, 1},
		{"отрицательная популярность", domain.RoleMain, -10, 1},
		{"первый тир", domain.RoleSupporting, 4_999, 1},
		{"граница второго тира", domain.RoleSupporting, 5_000, 2},
		{"третий тир", domain.RoleSupporting, 100_000, 3},
		{"четвёртый тир", domain.RoleSupporting, 250_000, 4},
		{"пятый тир", domain.RoleSupporting, 500_000, 5},
		{"главная роль поднимает тир", domain.RoleMain, 100_000, 4},
		{"главная роль не выходит за пять", domain.RoleMain, 500_000, 5},
		{"фоновая роль ограничена двумя", domain.RoleBackground, 500_000, 2},
		{"фоновая роль в первом тире", domain.RoleBackground, 1_000, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Rate(tc.role, tc.popularity)
			if got != tc.want {
				t.Fatalf("ожидали рейтинг %d, получили %d", tc.want, got)
			}
		})
	}
}

func TestRateMonotonic(t *testing.T) {
	prev := 0
	for pop := 0; pop <= 600_000; pop += 1_000 {
		got := Rate(domain.RoleSupporting, pop)
		if got < prev {
			t.Fatalf("рейтинг упал с %d до %d на популярности %d", prev, got, pop)
		}
		prev = got
	}
}

func TestRateEdge(t *testing.T) {
	if got := RateEdge(domain.MediaEdge{Role: domain.RoleMain}); got != 1 {
		t.Fatalf("без популярности ожидали 1, получили %d", got)
	}
	pop := 300_000
	edge := domain.MediaEdge{Role: domain.RoleMain, Media: domain.Media{Popularity: &pop}}
	if got := RateEdge(edge); got != 5 {
		t.Fatalf("ожидали 5, получили %d", got)
	}
}

func TestRarityBracketCoversRate(t *testing.T) {
	// Диапазон каждой редкости должен соответствовать рейтингу второстепенной
	// роли: гарантированный розыгрыш собирает пул из того же диапазона.
	for stars := 1; stars <= 5; stars++ {
		bracket := RarityBracket(stars)
		if got := Rate(domain.RoleSupporting, bracket.Lo+1); got != stars {
			t.Fatalf("нижняя граница %d★ дала рейтинг %d", stars, got)
		}
		if bracket.Hi > 0 {
			if got := Rate(domain.RoleSupporting, bracket.Hi-1); got != stars {
				t.Fatalf("верхняя граница %d★ дала рейтинг %d", stars, got)
			}
		}
	}
}

func TestFixed(t *testing.T) {
	if Fixed(0) != 1 || Fixed(-3) != 1 {
		t.Fatalf("ожидали нижний предел 1")
	}
	if Fixed(9) != 5 {
		t.Fatalf("ожидали верхний предел 5")
	}
	if Fixed(3) != 3 {
		t.Fatalf("допустимое значение не должно меняться")
	}
}
