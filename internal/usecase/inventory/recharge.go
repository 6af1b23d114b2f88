package inventory

import (
	"time"

	"github.com/leoodz/fable/internal/domain"
)

// Refill пересчитывает доступные пуллы с учётом прошедшего времени. RechargeAt
// хранит начало текущего окна восстановления и сдвигается вперёд на каждый
// начисленный пулл; при полном бюджете окно сбрасывается.
func Refill(inv *domain.Inventory, now time.Time, maxPulls int, per time.Duration) {
	if inv.AvailablePulls >= maxPulls {
		inv.RechargeAt = nil
		return
	}
	if inv.RechargeAt == nil {
		start := now
		inv.RechargeAt = &start
		return
	}

	gained := int(now.Sub(*inv.RechargeAt) / per)
	if gained <= 0 {
		return
	}

	inv.AvailablePulls += gained
	if inv.AvailablePulls >= maxPulls {
		inv.AvailablePulls = maxPulls
		inv.RechargeAt = nil
		return
	}
	advanced := inv.RechargeAt.Add(time.Duration(gained) * per)
	inv.RechargeAt = &advanced
}

// NextPullAt возвращает момент появления следующего пулла. Вызывается после
// Refill, когда бюджет оказался пустым.
func NextPullAt(inv domain.Inventory, now time.Time, per time.Duration) time.Time {
	if inv.RechargeAt == nil {
		return now.Add(per)
	}
	return inv.RechargeAt.Add(per)
}

// SpendPull списывает один пулл и запускает окно восстановления, если бюджет
// был полным.
func SpendPull(inv *domain.Inventory, now time.Time) {
	if inv.RechargeAt == nil {
		start := now
		inv.RechargeAt = &start
	}
	inv.AvailablePulls--
	last := now
	inv.LastPullAt = &last
}
