package notifications

import (
	"fmt"
	"strings"

	"github.com/albapepper/scoracle-relay/internal/provider"
)

// markdownEscaper escapes the characters Telegram's legacy Markdown treats
// as entity delimiters.
var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// EscapeMarkdown escapes s for use inside a Markdown formatted message.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func streamMessage(channel string, s *provider.StreamInfo) Message {
	return Message{
		Kind:     KindStream,
		Text:     fmt.Sprintf("📡 %s is LIVE!\n*%s*", EscapeMarkdown(channel), EscapeMarkdown(s.Title)),
		Format:   FormatMarkdown,
		LinkText: "📺 Watch Live",
		LinkURL:  s.URL,
	}
}

// LineupMessage renders one team's lineup as
//
//	👥 *Team Official Lineup*
//	🟢 *Starting XI:*
//	POS: #N Name
//	⚪ *Bench:*
//	POS: #N Name
func LineupMessage(l provider.TeamLineup) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "👥 *%s Official Lineup*\n", EscapeMarkdown(l.Team.Name))
	if l.Formation != "" {
		fmt.Fprintf(&b, "Formation: %s\n", EscapeMarkdown(l.Formation))
	}
	b.WriteString("\n🟢 *Starting XI:*\n")
	writePlayers(&b, l.StartXI)
	b.WriteString("\n⚪ *Bench:*\n")
	writePlayers(&b, l.Substitutes)
	return Message{Kind: KindLineup, Text: b.String(), Format: FormatMarkdown}
}

func writePlayers(b *strings.Builder, players []provider.LineupPlayer) {
	for _, p := range players {
		number := "-"
		if p.Number > 0 {
			number = fmt.Sprintf("%d", p.Number)
		}
		fmt.Fprintf(b, "%s: #%s %s\n", EscapeMarkdown(p.Position), number, EscapeMarkdown(p.Name))
	}
}

func eventMessage(kind Kind, ev provider.MatchEvent) Message {
	label := "⚽ GOAL!"
	if kind == KindRedCard {
		label = "🟥 RED CARD!"
	}
	player := ev.Player.Name
	if player == "" {
		player = "Unknown player"
	}
	return Message{
		Kind: kind,
		Text: fmt.Sprintf("%s %s - %s (%s)", label, ev.Team.Name, player, minute(ev)),
	}
}

func minute(ev provider.MatchEvent) string {
	if ev.Extra > 0 {
		return fmt.Sprintf("%d+%d'", ev.Elapsed, ev.Extra)
	}
	return fmt.Sprintf("%d'", ev.Elapsed)
}
