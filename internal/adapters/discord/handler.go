package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
	"github.com/leoodz/fable/internal/infra/metrics"
	"github.com/leoodz/fable/internal/usecase/gacha"
	"github.com/leoodz/fable/internal/usecase/inventory"
	"github.com/leoodz/fable/internal/usecase/packs"
	"github.com/leoodz/fable/internal/usecase/steal"
	"github.com/leoodz/fable/internal/usecase/synthesis"
	"github.com/leoodz/fable/internal/usecase/trade"
)

// Handler обслуживает вебхук Discord-взаимодействий.
type Handler struct {
	log       zerolog.Logger
	resolver  *gacha.Resolver
	synthesis *synthesis.Service
	steal     *steal.Service
	trade     *trade.Service
	packs     *packs.Service
	inventory domain.InventoryRepo
}

// NewHandler создаёт обработчик.
func NewHandler(log zerolog.Logger, resolver *gacha.Resolver, synthesisSvc *synthesis.Service, stealSvc *steal.Service, tradeSvc *trade.Service, packsSvc *packs.Service, inv domain.InventoryRepo) *Handler {
	return &Handler{
		log:       log,
		resolver:  resolver,
		synthesis: synthesisSvc,
		steal:     stealSvc,
		trade:     tradeSvc,
		packs:     packsSvc,
		inventory: inv,
	}
}

// Handle обрабатывает входящее взаимодействие и возвращает ответ вебхука.
func (h *Handler) Handle(ctx context.Context, interaction *discordgo.Interaction) *discordgo.InteractionResponse {
	if interaction.Type == discordgo.InteractionPing {
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong}
	}
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return reply("Unsupported interaction")
	}

	data := interaction.ApplicationCommandData()
	start := time.Now()
	defer func() {
		metrics.InteractionDuration.WithLabelValues(data.Name).Observe(time.Since(start).Seconds())
	}()

	guildID := interaction.GuildID
	userID := interactionUserID(interaction)
	if guildID == "" || userID == "" {
		return reply("This command only works inside a server")
	}

	opts := optionMap(data.Options)

	switch data.Name {
	case "gacha", "w":
		return h.handlePull(ctx, guildID, userID, 0)
	case "pull":
		stars := 0
		if opt, ok := opts["stars"]; ok {
			stars = int(opt.IntValue())
		}
		return h.handlePull(ctx, guildID, userID, stars)
	case "synthesize", "merge":
		return h.handleSynthesize(ctx, guildID, userID, opts)
	case "steal":
		return h.handleSteal(ctx, guildID, userID, opts)
	case "trade":
		return h.handleTrade(ctx, guildID, userID, opts)
	case "packs":
		return h.handlePacks(ctx, guildID, data.Options)
	case "like":
		return h.handleLike(ctx, guildID, userID, opts, true)
	case "unlike":
		return h.handleLike(ctx, guildID, userID, opts, false)
	case "party":
		return h.handleParty(ctx, guildID, userID, opts)
	default:
		return reply(fmt.Sprintf("Unknown command `%s`", data.Name))
	}
}

func (h *Handler) handlePull(ctx context.Context, guildID, userID string, stars int) *discordgo.InteractionResponse {
	pull, err := h.resolver.Pull(ctx, gacha.PullRequest{GuildID: guildID, UserID: userID, Stars: stars})
	if err != nil {
		return h.fail(err)
	}
	return replyEmbeds(renderPull(pull))
}

func (h *Handler) handleSynthesize(ctx context.Context, guildID, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionResponse {
	mode := synthesis.ModeTarget
	target := 0
	if opt, ok := opts["mode"]; ok {
		mode = synthesis.Mode(opt.StringValue())
	}
	if opt, ok := opts["target"]; ok {
		target = int(opt.IntValue())
	}
	if mode == synthesis.ModeTarget && target == 0 {
		return reply("Specify a target rarity or a mode (`min`/`max`)")
	}

	pull, err := h.synthesis.Merge(ctx, guildID, userID, mode, target)
	if err != nil {
		return h.fail(err)
	}
	return replyEmbeds(renderPull(pull))
}

func (h *Handler) handleSteal(ctx context.Context, guildID, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionResponse {
	opt, ok := opts["character"]
	if !ok {
		return reply("Specify a character to steal")
	}
	result, err := h.steal.Steal(ctx, guildID, userID, opt.StringValue(), nil)
	if err != nil {
		return h.fail(err)
	}
	return replyEmbeds(renderSteal(result))
}

func (h *Handler) handleTrade(ctx context.Context, guildID, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionResponse {
	userOpt, ok := opts["user"]
	if !ok {
		return reply("Specify a user to trade with")
	}
	offer := trade.Offer{
		GuildID: guildID,
		FromID:  userID,
		ToID:    userOpt.StringValue(),
	}
	if opt, ok := opts["give"]; ok {
		offer.Give = splitIDs(opt.StringValue())
	}
	if opt, ok := opts["take"]; ok {
		offer.Take = splitIDs(opt.StringValue())
	}

	if err := h.trade.Execute(ctx, offer); err != nil {
		return h.fail(err)
	}
	return reply("Trade completed")
}

func (h *Handler) handlePacks(ctx context.Context, guildID string, options []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionResponse {
	if len(options) == 0 {
		return reply("Specify a subcommand: install, uninstall or list")
	}
	sub := options[0]
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "install":
		opt, ok := opts["manifest"]
		if !ok {
			return reply("Specify a pack manifest")
		}
		var pack domain.Pack
		if err := json.Unmarshal([]byte(opt.StringValue()), &pack); err != nil {
			return reply("Invalid pack manifest")
		}
		if err := h.packs.Install(ctx, guildID, pack); err != nil {
			return h.fail(err)
		}
		return reply(fmt.Sprintf("Installed pack `%s`", pack.ID))
	case "uninstall":
		opt, ok := opts["id"]
		if !ok {
			return reply("Specify a pack id")
		}
		if err := h.packs.Uninstall(ctx, guildID, opt.StringValue()); err != nil {
			return h.fail(err)
		}
		return reply(fmt.Sprintf("Uninstalled pack `%s`", opt.StringValue()))
	case "list":
		installed, err := h.packs.ListInstalled(ctx, guildID)
		if err != nil {
			return h.fail(err)
		}
		if len(installed) == 0 {
			return reply("No packs installed")
		}
		names := make([]string, 0, len(installed))
		for _, p := range installed {
			names = append(names, fmt.Sprintf("`%s` — %s", p.ID, p.Title))
		}
		return reply(strings.Join(names, "\n"))
	default:
		return reply(fmt.Sprintf("Unknown subcommand `%s`", sub.Name))
	}
}

func (h *Handler) handleLike(ctx context.Context, guildID, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption, like bool) *discordgo.InteractionResponse {
	opt, ok := opts["character"]
	if !ok {
		return reply("Specify a character")
	}
	characterID := opt.StringValue()

	_, err := inventory.Update(ctx, h.inventory, guildID, userID, func(ctx context.Context, inv *domain.Inventory, expected int64) error {
		filtered := inv.Likes[:0]
		for _, id := range inv.Likes {
			if id != characterID {
				filtered = append(filtered, id)
			}
		}
		inv.Likes = filtered
		if like {
			inv.Likes = append(inv.Likes, characterID)
		}
		return h.inventory.CommitInventory(ctx, *inv, expected)
	})
	if err != nil {
		return h.fail(err)
	}
	if like {
		return reply(fmt.Sprintf("Added `%s` to your likes", characterID))
	}
	return reply(fmt.Sprintf("Removed `%s` from your likes", characterID))
}

func (h *Handler) handleParty(ctx context.Context, guildID, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionResponse {
	opt, ok := opts["characters"]
	if !ok {
		return reply("Specify party characters")
	}
	party := splitIDs(opt.StringValue())

	_, err := inventory.Update(ctx, h.inventory, guildID, userID, func(ctx context.Context, inv *domain.Inventory, expected int64) error {
		for _, characterID := range party {
			card, err := h.inventory.FindCharacter(ctx, guildID, characterID)
			if err != nil {
				return err
			}
			if card.UserID != userID {
				return domain.ErrCharacterNotOwned
			}
		}
		inv.Party = party
		return h.inventory.CommitInventory(ctx, *inv, expected)
	})
	if err != nil {
		return h.fail(err)
	}
	return reply(fmt.Sprintf("Party updated (%d members)", len(party)))
}

// fail переводит доменную ошибку в пользовательское сообщение. Неизвестные
// ошибки логируются с reference id и показываются обезличенно.
func (h *Handler) fail(err error) *discordgo.InteractionResponse {
	var (
		poolErr      *domain.PoolError
		noPulls      *domain.NoPullsError
		noGuarantee  *domain.NoGuaranteeError
		insufficient *domain.InsufficientSacrificesError
		cooldown     *domain.StealCooldownError
	)

	switch {
	case errors.As(err, &poolErr):
		if poolErr.Stars > 0 {
			return reply(fmt.Sprintf("There are no more %d★ characters left", poolErr.Stars))
		}
		return reply("There are no more characters left, try again")
	case errors.As(err, &noPulls):
		return reply(fmt.Sprintf("You don't have any more pulls! Recharges <t:%d:R>", noPulls.RechargeAt.Unix()))
	case errors.As(err, &noGuarantee):
		return reply(fmt.Sprintf("You don't have a %d★ guarantee", noGuarantee.Stars))
	case errors.As(err, &insufficient):
		return reply(fmt.Sprintf("You only have %d out of the %d sacrifices needed for a %d★ merge", insufficient.Have, insufficient.Need, insufficient.Target))
	case errors.Is(err, domain.ErrMergeNotPossible):
		return reply("Merge is not possible: you need more characters")
	case errors.As(err, &cooldown):
		return reply(fmt.Sprintf("Steal is on cooldown, try again <t:%d:R>", cooldown.Until.Unix()))
	case errors.Is(err, domain.ErrCharacterNotFound):
		return reply("Character not found")
	case errors.Is(err, domain.ErrCharacterNotOwned):
		return reply("That character doesn't belong to that user")
	case errors.Is(err, domain.ErrCharacterProtected):
		return reply("That character is protected by its owner's party")
	case errors.Is(err, packs.ErrPackNotFound):
		return reply("That pack is not installed")
	}

	refID := uuid.NewString()
	h.log.Error().Err(err).Str("ref", refID).Msg("необработанная ошибка взаимодействия")
	return reply(fmt.Sprintf("Something went wrong, try again later (ref: `%s`)", refID))
}

func interactionUserID(interaction *discordgo.Interaction) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}
