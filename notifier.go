package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Notifier announces tracking events to Discord channels. It is optional:
// without a bot token and channel list the tracker runs without it.
type Notifier struct {
	session    *discordgo.Session
	channelIDs []string
}

// NewNotifierFromEnv builds a connected notifier from DISCORD_BOT_TOKEN and
// DISCORD_CHANNEL_IDS, or returns nil when either is unset or the connection
// fails.
func NewNotifierFromEnv() *Notifier {
	botToken := os.Getenv("DISCORD_BOT_TOKEN")
	channelIDsStr := os.Getenv("DISCORD_CHANNEL_IDS")

	if botToken == "" || channelIDsStr == "" {
		log.Println("[I] [Discord] DISCORD_BOT_TOKEN or DISCORD_CHANNEL_IDS not set. Notifications disabled.")
		return nil
	}

	var channelIDs []string
	for _, id := range strings.Split(channelIDsStr, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			channelIDs = append(channelIDs, trimmed)
		}
	}
	if len(channelIDs) == 0 {
		log.Println("[W] [Discord] No valid channel IDs in DISCORD_CHANNEL_IDS. Notifications disabled.")
		return nil
	}

	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		log.Printf("[E] [Discord] Error creating session: %v. Notifications disabled.", err)
		return nil
	}

	if err := dg.Open(); err != nil {
		log.Printf("[E] [Discord] Error opening connection: %v. Notifications disabled.", err)
		return nil
	}

	if dg.State != nil && dg.State.User != nil {
		log.Printf("[I] [Discord] Connected as %v#%v, announcing to %d channel(s).",
			dg.State.User.Username, dg.State.User.Discriminator, len(channelIDs))
	} else {
		log.Printf("[I] [Discord] Connected, announcing to %d channel(s).", len(channelIDs))
	}

	return &Notifier{session: dg, channelIDs: channelIDs}
}

func (n *Notifier) Close() {
	if err := n.session.Close(); err != nil {
		log.Printf("[W] [Discord] Error closing session: %v", err)
	}
}

// AnnounceLevelUps posts one message per configured channel summarizing the
// cycle's level gains.
func (n *Notifier) AnnounceLevelUps(players []TrackedPlayer) {
	if len(players) == 0 {
		return
	}

	lines := make([]string, 0, len(players))
	for _, p := range players {
		lines = append(lines, fmt.Sprintf("**%s** reached level %d (+%d levels, %s XP)",
			p.Name, p.Level, p.LevelDiff, formatWithCommas(p.XPDiff)))
	}
	message := "🎉 Level ups this cycle:\n" + strings.Join(lines, "\n")

	for _, channelID := range n.channelIDs {
		if _, err := n.session.ChannelMessageSend(channelID, message); err != nil {
			log.Printf("[W] [Discord] Failed to send announcement to channel %s: %v", channelID, err)
		}
	}
}
