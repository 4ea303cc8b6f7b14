package channels

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/inkwellbot/inkwell/pkg/bus"
	"github.com/inkwellbot/inkwell/pkg/logger"
	"github.com/inkwellbot/inkwell/pkg/providers"
	"github.com/inkwellbot/inkwell/pkg/utils"
)

// threadArchiveMinutes auto-archives created threads after a day.
const threadArchiveMinutes = 1440

// numberEmoji are the reaction options for polls, in ballot order.
var numberEmoji = []string{
	"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟",
}

var minCountOption = float64(1)

var commandDefinitions = []*discordgo.ApplicationCommand{
	{
		Name:        bus.CommandSynopsis,
		Description: "Generate a spoiler-light synopsis for one book",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "title",
				Description: "The book title (author optional)",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "use-thread",
				Description: "Deliver the synopsis in a new thread",
			},
		},
	},
	{
		Name:        bus.CommandSynopsisBatch,
		Description: "Generate synopses for several books at once",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "titles",
				Description: "Comma-separated book titles (up to 10)",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "use-thread",
				Description: "Deliver the synopses in a new thread",
			},
		},
	},
	{
		Name:        bus.CommandDiscussion,
		Description: "Generate discussion questions for a book",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "title",
				Description: "The book to discuss",
				Required:    true,
			},
		},
	},
	{
		Name:        bus.CommandContentWarnings,
		Description: "List content warnings for a book",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "title",
				Description: "The book to check",
				Required:    true,
			},
		},
	},
	{
		Name:        bus.CommandRecommend,
		Description: "Recommend books similar to ones you liked",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "based-on",
				Description: "Books you enjoyed, comma-separated",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "count",
				Description: "How many recommendations (1-10, default 5)",
				MinValue:    &minCountOption,
				MaxValue:    10,
			},
		},
	},
	{
		Name:        bus.CommandPoll,
		Description: "Post a next-read poll with numbered voting reactions",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "titles",
				Description: "Candidate books, comma-separated (up to 10)",
				Required:    true,
			},
		},
	},
	{
		Name:        "provider",
		Description: "Show or switch the AI provider",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the active provider and available ones",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Switch the active provider",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Provider name",
						Required:    true,
					},
				},
			},
		},
	},
	{
		Name:        "help",
		Description: "Show what this bot can do",
	},
	{
		Name:        "ping",
		Description: "Check that the bot is alive",
	},
	{
		Name: bus.CommandGenerateMenu,
		Type: discordgo.MessageApplicationCommand,
	},
}

// Discord is the inbound and outbound chat surface. Inbound it decodes
// interactions into Invocations and publishes them after a deferred ack;
// outbound it implements the pipeline's Transport.
type Discord struct {
	session  *discordgo.Session
	queue    *bus.Queue
	registry *providers.Registry
	guildID  string
}

func NewDiscord(token, guildID string, queue *bus.Queue, registry *providers.Registry) (*Discord, error) {
	if token == "" {
		return nil, errors.New("discord token not configured")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	d := &Discord{
		session:  session,
		queue:    queue,
		registry: registry,
		guildID:  guildID,
	}
	session.AddHandler(d.handleInteraction)
	return d, nil
}

// Start opens the gateway connection and registers the command set.
func (d *Discord) Start() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if err := d.registerCommands(); err != nil {
		d.session.Close()
		return err
	}
	logger.InfoCF("discord", "connected", map[string]interface{}{
		"user":  d.session.State.User.Username,
		"guild": d.guildID,
	})
	return nil
}

func (d *Discord) Stop() error {
	return d.session.Close()
}

func (d *Discord) registerCommands() error {
	var failures []string
	for _, def := range commandDefinitions {
		_, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, d.guildID, def)
		if err != nil {
			if isDuplicateCommandError(err) {
				logger.DebugCF("discord", "command already registered", map[string]interface{}{
					"command": def.Name,
				})
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: %v", def.Name, err))
			logger.ErrorCF("discord", "command registration failed", map[string]interface{}{
				"command": def.Name,
				"error":   err.Error(),
			})
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("command registration errors: %s", strings.Join(failures, "; "))
	}
	return nil
}

func isDuplicateCommandError(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		if strings.Contains(strings.ToLower(restErr.Message.Message), "already exists") {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "50035") && strings.Contains(msg, "already exists")
}

func (d *Discord) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	switch data.Name {
	case "ping":
		d.respond(i, "Pong! 🏓", false)
		return
	case "help":
		d.respond(i, helpText, true)
		return
	case "provider":
		d.handleProvider(i, data)
		return
	}

	inv, errMsg := d.decodeInvocation(i, data)
	if errMsg != "" {
		d.respond(i, errMsg, true)
		return
	}

	// Deferred ack first: the platform window for the initial response is
	// short, everything else happens through the continuation token.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		logger.ErrorCF("discord", "deferred ack failed", map[string]interface{}{
			"command": data.Name,
			"error":   err.Error(),
		})
		return
	}

	d.queue.Publish(inv)
	logger.InfoCF("discord", "invocation queued", map[string]interface{}{
		"command":        inv.Command,
		"channel":        inv.ChannelID,
		"correlation_id": inv.CorrelationID,
	})
}

// decodeInvocation validates the interaction and builds the Invocation,
// including the provider snapshot. A non-empty message means the input was
// rejected before any deferred work.
func (d *Discord) decodeInvocation(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) (bus.Invocation, string) {
	inv := bus.Invocation{
		Command:       data.Name,
		Args:          bus.Args{},
		ChannelID:     i.ChannelID,
		InteractionID: i.ID,
		Token:         i.Token,
		Provider:      d.registry.Current(),
		CorrelationID: uuid.NewString(),
	}
	if i.Member != nil && i.Member.User != nil {
		inv.UserID = i.Member.User.ID
	} else if i.User != nil {
		inv.UserID = i.User.ID
	}

	if data.Name == bus.CommandGenerateMenu {
		msg, ok := data.Resolved.Messages[data.TargetID]
		if !ok || strings.TrimSpace(msg.Content) == "" {
			return inv, "That message has no text I can pull titles from."
		}
		inv.TargetMessage = data.TargetID
		inv.Metadata = map[string]string{"target_content": msg.Content}
		return inv, ""
	}

	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			inv.Args[opt.Name] = strings.TrimSpace(opt.StringValue())
		case discordgo.ApplicationCommandOptionBoolean:
			inv.Args[opt.Name] = opt.BoolValue()
		case discordgo.ApplicationCommandOptionInteger:
			inv.Args[opt.Name] = int(opt.IntValue())
		}
	}

	for _, required := range requiredStringArgs(data.Name) {
		if inv.Args.String(required) == "" {
			return inv, fmt.Sprintf("`%s` needs a non-empty `%s`.", data.Name, required)
		}
	}
	return inv, ""
}

func requiredStringArgs(command string) []string {
	switch command {
	case bus.CommandSynopsis, bus.CommandDiscussion, bus.CommandContentWarnings:
		return []string{"title"}
	case bus.CommandSynopsisBatch, bus.CommandPoll:
		return []string{"titles"}
	case bus.CommandRecommend:
		return []string{"based-on"}
	}
	return nil
}

func (d *Discord) handleProvider(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	d.respond(i, d.providerReply(data), true)
}

// providerReply handles the provider subcommands. All replies are ephemeral:
// provider state is operator-facing, not channel content.
func (d *Discord) providerReply(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) == 0 {
		return "Use `/provider status` or `/provider set`."
	}
	sub := data.Options[0]
	switch sub.Name {
	case "status":
		return fmt.Sprintf("Active provider: **%s**\nAvailable: %s",
			d.registry.Current(), strings.Join(d.registry.Names(), ", "))
	case "set":
		name := ""
		if len(sub.Options) > 0 {
			name = strings.TrimSpace(sub.Options[0].StringValue())
		}
		if err := d.registry.SetCurrent(name); err != nil {
			return fmt.Sprintf("Unknown provider `%s`. Available: %s",
				name, strings.Join(d.registry.Names(), ", "))
		}
		logger.InfoCF("discord", "provider switched", map[string]interface{}{
			"provider": name,
		})
		return fmt.Sprintf("Provider switched to **%s**. In-flight requests keep their original provider.", name)
	default:
		return "Use `/provider status` or `/provider set`."
	}
}

// respond sends an immediate (non-deferred) interaction response.
func (d *Discord) respond(i *discordgo.InteractionCreate, content string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := d.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		logger.WarnCF("discord", "interaction response failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// FollowUp posts through an invocation's continuation token. Valid for the
// platform's follow-up window after the deferred ack.
func (d *Discord) FollowUp(inv bus.Invocation, content string, ephemeral bool) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_, err := d.session.FollowupMessageCreate(&discordgo.Interaction{
		AppID: d.session.State.User.ID,
		Token: inv.Token,
	}, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   flags,
	})
	return err
}

func (d *Discord) PostMessage(channelID, content string) error {
	_, err := d.session.ChannelMessageSend(channelID, content)
	return err
}

func (d *Discord) CreateThreadFromMessage(channelID, messageID, name string) (string, error) {
	thread, err := d.session.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                utils.Truncate(name, 100),
		AutoArchiveDuration: threadArchiveMinutes,
	})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

func (d *Discord) CreateThread(channelID, name string) (string, error) {
	thread, err := d.session.ThreadStartComplex(channelID, &discordgo.ThreadStart{
		Name:                utils.Truncate(name, 100),
		Type:                discordgo.ChannelTypeGuildPublicThread,
		AutoArchiveDuration: threadArchiveMinutes,
	})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

// PostPoll posts the ballot message and seeds one numbered reaction per
// option so members can vote with a single click.
func (d *Discord) PostPoll(channelID, question string, options []string) error {
	if len(options) > len(numberEmoji) {
		options = options[:len(numberEmoji)]
	}
	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n\n")
	for i, opt := range options {
		fmt.Fprintf(&b, "%s %s\n", numberEmoji[i], opt)
	}

	msg, err := d.session.ChannelMessageSend(channelID, b.String())
	if err != nil {
		return err
	}
	for i := range options {
		if err := d.session.MessageReactionAdd(channelID, msg.ID, numberEmoji[i]); err != nil {
			logger.WarnCF("discord", "poll reaction failed", map[string]interface{}{
				"emoji": numberEmoji[i],
				"error": err.Error(),
			})
		}
	}
	return nil
}

const helpText = `**Inkwell — book club assistant**

• ` + "`/synopsis title:<book>`" + ` — spoiler-light synopsis, optionally in a thread
• ` + "`/synopsis-batch titles:<a, b, c>`" + ` — up to 10 synopses at once
• ` + "`/discussion title:<book>`" + ` — discussion questions
• ` + "`/content-warnings title:<book>`" + ` — content warnings
• ` + "`/recommend based-on:<books>`" + ` — similar-book recommendations
• ` + "`/poll titles:<a, b, c>`" + ` — next-read poll with voting reactions
• ` + "`/provider status`" + ` / ` + "`/provider set`" + ` — AI provider controls
• Right-click a message → **Apps → Generate Synopses** to pull titles from it`
