package notify

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/microcosm-cc/bluemonday"
)

const (
	colorGreen = 0x2ecc71
	colorBlue  = 0x3498db

	// Discord rejects embed descriptions above 4096 characters. The limit
	// counts runes, not bytes.
	maxDescription = 4000
)

var strict = bluemonday.StrictPolicy()

// plain strips any markup that leaked in from a scraped page.
func plain(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

func alertEmbed(a Alert) *discordgo.MessageEmbed {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Stock Alert!",
		Description: fmt.Sprintf("**%s** is in stock at **%s**!", plain(a.Item), plain(a.Store)),
		Color:       colorGreen,
		Timestamp:   at.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "URL", Value: fmt.Sprintf("[Click Here](%s)", a.URL)},
		},
	}

	if a.Result.LowStock {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Low Stock",
			Value: "Only a few left, act fast.",
		})
	}
	if title := plain(a.Result.Title); title != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: title}
	}

	if a.Result.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: a.Result.ImageURL}
	} else {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Note",
			Value: "Product image unavailable.",
		})
	}

	return embed
}

func alertContent(a Alert) string {
	if a.Broadcast {
		return "@everyone"
	}
	return ""
}

func allowedMentions(broadcast bool) *discordgo.MessageAllowedMentions {
	if broadcast {
		return &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone},
		}
	}
	return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
}

func summaryEmbed(lines []string, at time.Time) *discordgo.MessageEmbed {
	description := "No items configured."
	if len(lines) > 0 {
		description = truncate(strings.Join(lines, "\n"), maxDescription)
	}
	return &discordgo.MessageEmbed{
		Title:       "Manual Stock Check",
		Description: description,
		Color:       colorBlue,
		Timestamp:   at.UTC().Format(time.RFC3339),
	}
}

// truncate cuts s to at most limit runes, marking the cut.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + "\n…"
		}
		n++
	}
	return s
}
