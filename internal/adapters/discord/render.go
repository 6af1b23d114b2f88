package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/leoodz/fable/internal/domain"
	"github.com/leoodz/fable/internal/usecase/steal"
)

func reply(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	}
}

func replyEmbeds(embeds ...*discordgo.MessageEmbed) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: embeds},
	}
}

func starsLine(rating int) string {
	return strings.Repeat("★", rating) + strings.Repeat("☆", 5-rating)
}

func renderPull(pull domain.Pull) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       pull.Character.Name,
		Description: fmt.Sprintf("%s\n%s", starsLine(pull.Card.Rating), pull.Media.Title),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Pulls left: %d", pull.Remaining),
		},
	}
	if pull.Card.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: pull.Card.ImageURL}
	}
	if len(pull.LikedBy) > 0 {
		mentions := make([]string, 0, len(pull.LikedBy))
		for _, userID := range pull.LikedBy {
			mentions = append(mentions, "<@"+userID+">")
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Wished by",
			Value: strings.Join(mentions, " "),
		})
	}
	if len(pull.Guarantees) > 0 {
		parts := make([]string, 0, len(pull.Guarantees))
		for _, stars := range pull.Guarantees {
			parts = append(parts, fmt.Sprintf("%d★", stars))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Guarantees",
			Value: strings.Join(parts, ", "),
		})
	}
	return embed
}

func renderSteal(result steal.Result) *discordgo.MessageEmbed {
	if !result.Success {
		return &discordgo.MessageEmbed{
			Title:       "Steal failed",
			Description: fmt.Sprintf("The %d%% roll didn't go your way. Cooldown until <t:%d:R>.", result.Chance, result.CooldownAt.Unix()),
		}
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Steal succeeded",
		Description: fmt.Sprintf("%s\nYou got away with it at %d%%. Cooldown until <t:%d:R>.", starsLine(result.Card.Rating), result.Chance, result.CooldownAt.Unix()),
	}
	if result.Card.ImageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: result.Card.ImageURL}
	}
	return embed
}
