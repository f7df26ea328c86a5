package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/albapepper/scoracle-relay/internal/cache"
	"github.com/albapepper/scoracle-relay/internal/notifications"
	"github.com/albapepper/scoracle-relay/internal/provider"
	"github.com/albapepper/scoracle-relay/internal/subscription"
)

// DefaultBannerURL is the picture sent with the /start greeting.
const DefaultBannerURL = "https://i.ibb.co/f1hJQ0w/football-banner.jpg"

const (
	watchCacheKey = "live"
	// listLimit caps the matches shown by /fixtures and /livescores.
	listLimit = 10
)

// Reply is a command response.
type Reply struct {
	Text     string
	Format   notifications.Format
	LinkText string
	LinkURL  string
	// Photo is sent with Text as its caption when set.
	Photo string
	// Menu is an inline keyboard. It replaces the LinkURL button.
	Menu [][]Button
}

// Button is an inline keyboard button: a link when URL is set, otherwise a
// callback carrying Data.
type Button struct {
	Text string
	URL  string
	Data string
}

// FootballLookup is the match data the commands read on demand.
type FootballLookup interface {
	Fixtures(ctx context.Context, date time.Time) ([]provider.Fixture, error)
	Lineups(ctx context.Context, fixtureID int) ([]provider.TeamLineup, error)
	LiveFixtures(ctx context.Context) ([]provider.Fixture, error)
}

// CommandDeps are the command dependencies. Only Subs is required.
type CommandDeps struct {
	Subs *subscription.Store
	// Streams and Football are nil when the provider is not configured.
	Streams  notifications.StreamSource
	Football FootballLookup
	// Watch caches live stream lookups. Nil disables caching.
	Watch    *cache.Cache[*provider.StreamInfo]
	Channel  string
	Banner   string
	Location *time.Location
	Now      func() time.Time
}

// Commands computes replies to chat commands. It holds no transport state so
// replies can be produced and tested without Telegram.
type Commands struct {
	subs     *subscription.Store
	streams  notifications.StreamSource
	football FootballLookup
	watch    *cache.Cache[*provider.StreamInfo]
	channel  string
	banner   string
	loc      *time.Location
	now      func() time.Time
}

// NewCommands creates the command set.
func NewCommands(d CommandDeps) *Commands {
	if d.Watch == nil {
		d.Watch = cache.New[*provider.StreamInfo](0)
	}
	if d.Channel == "" {
		d.Channel = "SportyTV"
	}
	if d.Banner == "" {
		d.Banner = DefaultBannerURL
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Commands{
		subs:     d.Subs,
		streams:  d.Streams,
		football: d.Football,
		watch:    d.Watch,
		channel:  d.Channel,
		banner:   d.Banner,
		loc:      d.Location,
		now:      d.Now,
	}
}

// Start greets the user with the banner and main menu, noting whether the
// channel is live.
func (c *Commands) Start(ctx context.Context) Reply {
	text := "⚽ *Welcome to Sporty Bot!*\n\n"
	stream, err := c.liveStream(ctx)
	switch {
	case err != nil || c.streams == nil:
		text += "Use /help to see what I can do."
	case stream != nil:
		text += fmt.Sprintf("✅ %s is live now:\n*%s*", notifications.EscapeMarkdown(c.channel), notifications.EscapeMarkdown(stream.Title))
	default:
		text += fmt.Sprintf("❌ %s is not live at the moment.", notifications.EscapeMarkdown(c.channel))
	}
	return Reply{Text: text, Format: notifications.FormatMarkdown, Photo: c.banner, Menu: mainMenu(stream)}
}

// mainMenu lays out the inline keyboard shown by /start and /help. The first
// row links to the live stream when there is one.
func mainMenu(stream *provider.StreamInfo) [][]Button {
	first := []Button{{Text: "❌ No Live Now", Data: "watch"}}
	if stream != nil && stream.URL != "" {
		first = []Button{{Text: "📺 Watch Live", URL: stream.URL}}
	}
	return [][]Button{
		first,
		{{Text: "📅 Fixtures", Data: "fixtures"}, {Text: "📡 Live Scores", Data: "livescores"}},
		{{Text: "👥 Lineups", Data: "lineups"}, {Text: "ℹ️ About", Data: "about"}},
	}
}

// Help lists the commands.
func (c *Commands) Help() Reply {
	return Reply{
		Text: "ℹ️ Use:\n" +
			"/watch /fixtures /livescores /lineups /about /subscribe\n" +
			"/follow TeamName /unfollow TeamName /following",
		Menu: mainMenu(nil),
	}
}

// About describes the bot.
func (c *Commands) About() Reply {
	return Reply{
		Text: "🤖 *Sporty Bot*\n\n" +
			"🎥 " + notifications.EscapeMarkdown(c.channel) + " live alerts\n" +
			"📅 Fixtures & Live scores\n" +
			"👥 Lineups & Auto push\n" +
			"⚽ Goal + 🟥 Red card alerts\n\n" +
			"Powered by API-Football + YouTube API",
		Format: notifications.FormatMarkdown,
	}
}

// Subscribe adds the chat to the live stream alert list.
func (c *Commands) Subscribe(chatID int64) Reply {
	c.subs.AddSubscriber(chatID)
	return Reply{Text: fmt.Sprintf("✅ Subscribed! You'll get %s live alerts.", c.channel)}
}

// Follow adds a team to the chat's follow list.
func (c *Commands) Follow(chatID int64, arg string) Reply {
	team := strings.TrimSpace(arg)
	if team == "" {
		return Reply{Text: "Usage: /follow TeamName"}
	}
	c.subs.AddFollow(chatID, team)
	return Reply{Text: fmt.Sprintf("✅ You are now following %s.", team)}
}

// Unfollow removes one entry for a team from the chat's follow list.
func (c *Commands) Unfollow(chatID int64, arg string) Reply {
	team := strings.TrimSpace(arg)
	if team == "" {
		return Reply{Text: "Usage: /unfollow TeamName"}
	}
	if !c.subs.RemoveFollow(chatID, team) {
		return Reply{Text: fmt.Sprintf("You were not following %s.", team)}
	}
	return Reply{Text: fmt.Sprintf("❌ You unfollowed %s.", team)}
}

// Following lists the chat's teams in the order they were followed.
func (c *Commands) Following(chatID int64) Reply {
	teams := c.subs.Follows(chatID)
	if len(teams) == 0 {
		return Reply{Text: "You are not following any team. Use /follow TeamName"}
	}
	return Reply{Text: "📋 You follow:\n" + strings.Join(teams, "\n")}
}

// Watch reports whether the channel is live, with a link if it is.
func (c *Commands) Watch(ctx context.Context) Reply {
	if c.streams == nil {
		return Reply{Text: "Live stream checks are not configured."}
	}
	stream, err := c.liveStream(ctx)
	if err != nil {
		return Reply{Text: "⚠️ Could not check the live stream right now. Try again later."}
	}
	if stream == nil {
		return Reply{Text: fmt.Sprintf("❌ %s is not live now.", c.channel)}
	}
	return Reply{
		Text:     fmt.Sprintf("🎥 %s is LIVE:\n*%s*", notifications.EscapeMarkdown(c.channel), notifications.EscapeMarkdown(stream.Title)),
		Format:   notifications.FormatMarkdown,
		LinkText: "📺 Watch Live",
		LinkURL:  stream.URL,
	}
}

func (c *Commands) liveStream(ctx context.Context) (*provider.StreamInfo, error) {
	if c.streams == nil {
		return nil, nil
	}
	stream, _, err := c.watch.GetOrLoad(ctx, watchCacheKey, c.streams.LiveStream)
	return stream, err
}

// --------------------------------------------------------------------------
// Match data
// --------------------------------------------------------------------------

var noFootball = Reply{Text: "Match data is not configured."}

// Fixtures lists up to ten of today's matches with their kick-off time.
func (c *Commands) Fixtures(ctx context.Context) Reply {
	if c.football == nil {
		return noFootball
	}
	fixtures, err := c.football.Fixtures(ctx, c.now().In(c.loc))
	if err != nil {
		return Reply{Text: "⚠️ Could not fetch fixtures right now. Try again later."}
	}
	if len(fixtures) == 0 {
		return Reply{Text: "📅 No matches today."}
	}

	var b strings.Builder
	b.WriteString("📅 *Today's Fixtures:*\n\n")
	for _, f := range fixtures[:min(len(fixtures), listLimit)] {
		fmt.Fprintf(&b, "%s | %s: %s vs %s\n",
			f.Date.In(c.loc).Format("15:04"),
			notifications.EscapeMarkdown(f.League),
			notifications.EscapeMarkdown(f.HomeTeam.Name),
			notifications.EscapeMarkdown(f.AwayTeam.Name))
	}
	return Reply{Text: b.String(), Format: notifications.FormatMarkdown}
}

// LiveScores lists up to ten matches in play with score and minute.
func (c *Commands) LiveScores(ctx context.Context) Reply {
	if c.football == nil {
		return noFootball
	}
	fixtures, err := c.football.LiveFixtures(ctx)
	if err != nil {
		return Reply{Text: "⚠️ Could not fetch live scores right now. Try again later."}
	}
	if len(fixtures) == 0 {
		return Reply{Text: "📡 No live matches now."}
	}

	var b strings.Builder
	b.WriteString("📡 *Live Scores:*\n\n")
	for _, f := range fixtures[:min(len(fixtures), listLimit)] {
		fmt.Fprintf(&b, "%s: %s %d - %d %s (%d')\n",
			notifications.EscapeMarkdown(f.League),
			notifications.EscapeMarkdown(f.HomeTeam.Name),
			f.HomeGoals, f.AwayGoals,
			notifications.EscapeMarkdown(f.AwayTeam.Name),
			f.Elapsed)
	}
	return Reply{Text: b.String(), Format: notifications.FormatMarkdown}
}

// Lineups shows the published lineup of the team's match today.
func (c *Commands) Lineups(ctx context.Context, arg string) Reply {
	team := strings.TrimSpace(arg)
	if team == "" {
		return Reply{Text: "Usage: /lineups TeamName"}
	}
	if c.football == nil {
		return noFootball
	}
	none := Reply{Text: fmt.Sprintf("❌ No lineup for %s now.", team)}

	fixtures, err := c.football.Fixtures(ctx, c.now().In(c.loc))
	if err != nil {
		return Reply{Text: "⚠️ Could not fetch lineups right now. Try again later."}
	}
	key := subscription.Normalize(team)
	id := 0
	for _, f := range fixtures {
		if subscription.Normalize(f.HomeTeam.Name) == key || subscription.Normalize(f.AwayTeam.Name) == key {
			id = f.ID
			break
		}
	}
	if id == 0 {
		return none
	}

	lineups, err := c.football.Lineups(ctx, id)
	if err != nil {
		return Reply{Text: "⚠️ Could not fetch lineups right now. Try again later."}
	}
	for _, l := range lineups {
		if subscription.Normalize(l.Team.Name) == key {
			msg := notifications.LineupMessage(l)
			return Reply{Text: msg.Text, Format: msg.Format}
		}
	}
	return none
}

// Callback answers a main-menu button press. ok is false for data no button
// carries.
func (c *Commands) Callback(ctx context.Context, data string) (r Reply, ok bool) {
	switch data {
	case "watch":
		return c.Watch(ctx), true
	case "fixtures":
		return c.Fixtures(ctx), true
	case "livescores":
		return c.LiveScores(ctx), true
	case "lineups":
		return Reply{Text: "👉 Use /lineups TeamName"}, true
	case "about":
		return c.About(), true
	default:
		return Reply{}, false
	}
}
