package discord

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
)

func TestHandlePing(t *testing.T) {
	h := NewHandler(zerolog.Nop(), nil, nil, nil, nil, nil, nil)
	resp := h.Handle(context.Background(), &discordgo.Interaction{Type: discordgo.InteractionPing})
	if resp.Type != discordgo.InteractionResponsePong {
		t.Fatalf("на ping отвечаем pong, получили %v", resp.Type)
	}
}

func TestFailMapsDomainErrors(t *testing.T) {
	h := NewHandler(zerolog.Nop(), nil, nil, nil, nil, nil, nil)
	recharge := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"пустой пул", &domain.PoolError{}, "no more characters"},
		{"пустой пул редкости", &domain.PoolError{Stars: 4}, "no more 4★"},
		{"нет пуллов", &domain.NoPullsError{RechargeAt: recharge}, "don't have any more pulls"},
		{"нет гарантии", &domain.NoGuaranteeError{Stars: 3}, "3★ guarantee"},
		{"мало жертв", &domain.InsufficientSacrificesError{Have: 3, Need: 5, Target: 2}, "3 out of the 5"},
		{"синтез невозможен", domain.ErrMergeNotPossible, "Merge is not possible"},
		{"перезарядка кражи", &domain.StealCooldownError{Until: recharge}, "cooldown"},
		{"персонаж не найден", domain.ErrCharacterNotFound, "not found"},
		{"чужая карта", domain.ErrCharacterNotOwned, "doesn't belong"},
		{"карта защищена", domain.ErrCharacterProtected, "protected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.fail(tc.err)
			if !strings.Contains(resp.Data.Content, tc.want) {
				t.Fatalf("ожидали %q в ответе, получили %q", tc.want, resp.Data.Content)
			}
		})
	}
}

func TestFailUnknownErrorGetsReference(t *testing.T) {
	h := NewHandler(zerolog.Nop(), nil, nil, nil, nil, nil, nil)
	resp := h.fail(context.DeadlineExceeded)
	if !strings.Contains(resp.Data.Content, "ref: ") {
		t.Fatalf("неизвестная ошибка должна получать reference id: %q", resp.Data.Content)
	}
	if strings.Contains(resp.Data.Content, "deadline") {
		t.Fatalf("внутренняя ошибка не должна утекать пользователю: %q", resp.Data.Content)
	}
}

func TestSplitIDs(t *testing.T) {
	got := splitIDs(" a, b ,,c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("неожиданный результат: %+v", got)
	}
	if got := splitIDs(""); len(got) != 0 {
		t.Fatalf("пустая строка должна дать пустой список: %+v", got)
	}
}

func TestInteractionUserID(t *testing.T) {
	member := &discordgo.Interaction{Member: &discordgo.Member{User: &discordgo.User{ID: "m1"}}}
	if got := interactionUserID(member); got != "m1" {
		t.Fatalf("ожидали m1, получили %s", got)
	}
	direct := &discordgo.Interaction{User: &discordgo.User{ID: "u1"}}
	if got := interactionUserID(direct); got != "u1" {
		t.Fatalf("ожидали u1, получили %s", got)
	}
	if got := interactionUserID(&discordgo.Interaction{}); got != "" {
		t.Fatalf("без пользователя ожидали пустую строку, получили %s", got)
	}
}

func TestStarsLine(t *testing.T) {
	if got := starsLine(3); got != "★★★☆☆" {
		t.Fatalf("неожиданная строка рейтинга: %s", got)
	}
}
