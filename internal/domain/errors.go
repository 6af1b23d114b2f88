package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrVersionConflict возвращается хранилищем, когда условная запись не прошла
// по версии. Не показывается пользователю: вызывающий код перечитывает
// состояние и повторяет цикл.
var ErrVersionConflict = errors.New("inventory version conflict")

// ErrConcurrencyExhausted означает, что бюджет повторов оптимистичной записи
// исчерпан. Фатально для запроса.
var ErrConcurrencyExhausted = errors.New("failed to update inventory: too many conflicts")

// ErrMergeNotPossible возвращается, когда ни одна редкость не набирает пять
// жертв.
var ErrMergeNotPossible = errors.New("merge not possible: not enough sacrifices at any rarity")

// ErrCharacterNotFound — персонаж не найден ни в каталоге, ни в паках.
var ErrCharacterNotFound = errors.New("character not found")

// ErrCharacterNotOwned — карта не принадлежит указанному пользователю.
var ErrCharacterNotOwned = errors.New("character is not owned by that user")

// ErrCharacterProtected — карта находится в партии владельца и защищена от
// кражи.
var ErrCharacterProtected = errors.New("character is protected by its owner's party")

// ErrRateLimited отдаётся каталожным клиентом, когда лимит запросов исчерпан
// даже после ограниченных повторов.
var ErrRateLimited = errors.New("catalog rate limited")

// PoolError означает, что разыгранные переменные не дали ни одного валидного
// кандидата либо кандидат не прошёл повторную проверку. Безопасно повторять
// розыгрыш целиком.
type PoolError struct {
	Bracket Bracket
	Role    Role
	Stars   int
}

func (e *PoolError) Error() string {
	if e.Stars > 0 {
		return fmt.Sprintf("no more %d-star characters left", e.Stars)
	}
	return "no more characters left"
}

// NoPullsError — бюджет пуллов исчерпан. RechargeAt показывает, когда
// появится следующий пулл.
type NoPullsError struct {
	RechargeAt time.Time
}

func (e *NoPullsError) Error() string {
	return fmt.Sprintf("no more pulls available, recharges at %s", e.RechargeAt.UTC().Format(time.RFC3339))
}

// NoGuaranteeError — у пользователя нет токена гарантии нужной редкости.
type NoGuaranteeError struct {
	Stars int
}

func (e *NoGuaranteeError) Error() string {
	return fmt.Sprintf("no %d-star guarantee available", e.Stars)
}

// InsufficientSacrificesError — для запрошенной редкости не хватает жертв.
type InsufficientSacrificesError struct {
	Have   int
	Need   int
	Target int
}

func (e *InsufficientSacrificesError) Error() string {
	return fmt.Sprintf("only %d out of %d sacrifices available for %d-star merge", e.Have, e.Need, e.Target)
}

// StealCooldownError — кража на перезарядке.
type StealCooldownError struct {
	Until time.Time
}

func (e *StealCooldownError) Error() string {
	return fmt.Sprintf("steal is on cooldown until %s", e.Until.UTC().Format(time.RFC3339))
}
