package gacha

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/leoodz/fable/internal/domain"
)

// ErrBadWeights — ошибка конфигурации: шансы таблицы не дают в сумме 100.
// Проверяется при старте процесса, на retry не уходит.
var ErrBadWeights = errors.New("weighted table must sum to 100")

// Choice связывает значение с шансом в процентах.
type Choice[T any] struct {
	Value  T
	Chance int
}

// BracketTable — шансы диапазонов популярности при обычном пулле.
var BracketTable = []Choice[domain.Bracket]{
	{Value: domain.Bracket{Lo: 0, Hi: 50_000}, Chance: 65},
	{Value: domain.Bracket{Lo: 50_000, Hi: 100_000}, Chance: 22},
	{Value: domain.Bracket{Lo: 100_000, Hi: 200_000}, Chance: 9},
	{Value: domain.Bracket{Lo: 200_000, Hi: 400_000}, Chance: 3},
	{Value: domain.Bracket{Lo: 400_000}, Chance: 1},
}

// RoleTable — шансы ролей при обычном пулле.
var RoleTable = []Choice[domain.Role]{
	{Value: domain.RoleMain, Chance: 10},
	{Value: domain.RoleSupporting, Chance: 70},
	{Value: domain.RoleBackground, Chance: 20},
}

// Validate проверяет, что шансы таблицы дают в сумме ровно 100.
func Validate[T any](choices []Choice[T]) error {
	total := 0
	for _, c := range choices {
		if c.Chance <= 0 {
			return fmt.Errorf("%w: non-positive chance %d", ErrBadWeights, c.Chance)
		}
		total += c.Chance
	}
	if total != 100 {
		return fmt.Errorf("%w: got %d", ErrBadWeights, total)
	}
	return nil
}

// Sample разыгрывает один элемент таблицы. Каждый элемент разворачивается в
// Chance копий своего индекса в плоском массиве из ста слотов, массив
// перемешивается, побеждает первый слот. Точная дискретизация на гранулярности
// в один процент без накопления ошибок плавающей точки; таблицы маленькие и
// статичные, так что O(100) здесь дёшево.
func Sample[T any](choices []Choice[T], rng *rand.Rand) (Choice[T], error) {
	if err := Validate(choices); err != nil {
		return Choice[T]{}, err
	}

	flat := make([]int, 0, 100)
	for i, c := range choices {
		for n := 0; n < c.Chance; n++ {
			flat = append(flat, i)
		}
	}
	rng.Shuffle(len(flat), func(i, j int) {
		flat[i], flat[j] = flat[j], flat[i]
	})
	return choices[flat[0]], nil
}
