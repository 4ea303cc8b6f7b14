package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inkwellbot/inkwell/pkg/bus"
	"github.com/inkwellbot/inkwell/pkg/chunker"
	"github.com/inkwellbot/inkwell/pkg/generate"
	"github.com/inkwellbot/inkwell/pkg/logger"
	"github.com/inkwellbot/inkwell/pkg/search"
	"github.com/inkwellbot/inkwell/pkg/titles"
	"github.com/inkwellbot/inkwell/pkg/utils"
)

// Transport is the outbound chat surface the pipeline delivers through.
// The Discord channel implements it; tests substitute a fake.
type Transport interface {
	// FollowUp replies through the invocation's continuation token.
	FollowUp(inv bus.Invocation, content string, ephemeral bool) error
	// PostMessage posts to a channel or thread by ID.
	PostMessage(channelID, content string) error
	// CreateThreadFromMessage starts a thread rooted at an existing message.
	CreateThreadFromMessage(channelID, messageID, name string) (string, error)
	// CreateThread starts a freestanding thread in a channel.
	CreateThread(channelID, name string) (string, error)
	// PostPoll posts a poll message with numbered options and reactions.
	PostPoll(channelID, question string, options []string) error
}

// Sleeper paces successive outbound posts. Injected so tests can observe
// pacing without waiting.
type Sleeper func(ctx context.Context, d time.Duration)

func sleepFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Result pairs a work item with its generated artifact. Failed generations
// keep their slot so output order always mirrors input order.
type Result struct {
	Item     string
	Artifact string
	OK       bool
	ErrText  string
}

type Options struct {
	Queue          *bus.Queue
	Transport      Transport
	Generator      *generate.Client
	Searcher       *search.Client // nil disables recommendation enrichment
	MaxTitles      int
	MaxMessageLen  int
	ChunkDelay     time.Duration
	ArtifactDelay  time.Duration
	GenerateBudget time.Duration // ceiling passed down into provider calls
	Sleep          Sleeper
}

// Pipeline is the deferred command processor: it consumes acknowledged
// invocations from the queue and carries each one through resolution,
// routing, generation, and ordered delivery.
type Pipeline struct {
	queue          *bus.Queue
	transport      Transport
	generator      *generate.Client
	searcher       *search.Client
	maxTitles      int
	maxMessageLen  int
	chunkDelay     time.Duration
	artifactDelay  time.Duration
	generateBudget time.Duration
	sleep          Sleeper
	running        atomic.Bool
}

func New(opts Options) *Pipeline {
	if opts.MaxTitles <= 0 {
		opts.MaxTitles = 10
	}
	if opts.MaxMessageLen <= 0 {
		opts.MaxMessageLen = chunker.DefaultMaxLen
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepFor
	}
	if opts.GenerateBudget <= 0 {
		opts.GenerateBudget = 5 * time.Minute
	}
	return &Pipeline{
		queue:          opts.Queue,
		transport:      opts.Transport,
		generator:      opts.Generator,
		searcher:       opts.Searcher,
		maxTitles:      opts.MaxTitles,
		maxMessageLen:  opts.MaxMessageLen,
		chunkDelay:     opts.ChunkDelay,
		artifactDelay:  opts.ArtifactDelay,
		generateBudget: opts.GenerateBudget,
		sleep:          opts.Sleep,
	}
}

// Run consumes the dispatch queue until ctx is done. Each invocation gets
// its own goroutine; invocations share no mutable state.
func (p *Pipeline) Run(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	for {
		inv, ok := p.queue.Consume(ctx)
		if !ok {
			return
		}
		go p.Process(ctx, inv)
	}
}

// Process is the deferred continuation for one acknowledged invocation. It
// always reaches a terminal state: any uncaught failure is converted into a
// single user-visible error message.
func (p *Pipeline) Process(ctx context.Context, inv bus.Invocation) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("pipeline", "panic during deferred processing", map[string]interface{}{
				"command":        inv.Command,
				"correlation_id": inv.CorrelationID,
				"panic":          fmt.Sprintf("%v", r),
			})
			p.followUp(inv, "Something went wrong while processing your request. Please try again.", false)
		}
	}()

	logger.InfoCF("pipeline", "processing invocation", map[string]interface{}{
		"command":        inv.Command,
		"channel":        inv.ChannelID,
		"provider":       inv.Provider,
		"correlation_id": inv.CorrelationID,
	})

	ctx, cancel := context.WithTimeout(ctx, p.generateBudget)
	defer cancel()

	if err := p.process(ctx, inv); err != nil {
		logger.ErrorCF("pipeline", "invocation failed", map[string]interface{}{
			"command":        inv.Command,
			"correlation_id": inv.CorrelationID,
			"error":          err.Error(),
		})
		p.followUp(inv, "Something went wrong while processing your request. Please try again.", false)
	}
}

func (p *Pipeline) process(ctx context.Context, inv bus.Invocation) error {
	// Resolving
	plan, diagnostic := p.resolve(ctx, inv)
	if diagnostic != "" {
		p.followUp(inv, diagnostic, true)
		return nil
	}

	if plan.poll {
		return p.deliverPoll(inv, plan)
	}

	// Routing
	target := p.route(inv, plan)

	// Generating: parallel fan-out, join barrier before any delivery so
	// output order can mirror input order.
	results := p.generateAll(ctx, inv, plan)

	// Delivering
	p.deliver(ctx, inv, target, results)

	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	final := fmt.Sprintf("Done — %d of %d generated.", ok, len(results))
	if target.IsThread {
		final += fmt.Sprintf(" See <#%s>.", target.ChannelID)
	}
	p.followUp(inv, final, false)
	return nil
}

// plan is the resolved shape of one invocation: the ordered work items plus
// the artifact kind and routing hints.
type plan struct {
	items        []string
	kind         generate.Kind
	basedOn      string
	count        int
	poll         bool
	threadWanted bool
	threadName   string
}

// resolve maps the invocation onto work items. A non-empty diagnostic means
// the pipeline terminates here with that message (not an error).
func (p *Pipeline) resolve(ctx context.Context, inv bus.Invocation) (plan, string) {
	resolver := titles.NewResolver(extractorFunc(func(c context.Context, text string) ([]string, error) {
		return p.generator.ExtractTitles(c, inv.Provider, text)
	}))

	var pl plan
	switch inv.Command {
	case bus.CommandSynopsis:
		pl.items = []string{inv.Args.String("title")}
		pl.kind = generate.KindSynopsis
		pl.threadWanted = inv.Args.Bool("use-thread")
	case bus.CommandSynopsisBatch:
		pl.items = resolver.Resolve(ctx, inv.Args.String("titles"))
		pl.kind = generate.KindSynopsis
		pl.threadWanted = inv.Args.Bool("use-thread")
	case bus.CommandDiscussion:
		pl.items = []string{inv.Args.String("title")}
		pl.kind = generate.KindDiscussion
	case bus.CommandContentWarnings:
		pl.items = []string{inv.Args.String("title")}
		pl.kind = generate.KindContentWarnings
	case bus.CommandRecommend:
		based := resolver.Resolve(ctx, inv.Args.String("based-on"))
		if len(based) == 0 {
			return pl, "I couldn't find any book titles in that. Try a comma-separated list."
		}
		pl.basedOn = strings.Join(based, ", ")
		pl.items = []string{pl.basedOn}
		pl.kind = generate.KindRecommendations
		pl.count = 5
		if n, ok := inv.Args.Int("count"); ok {
			pl.count = clamp(n, 1, p.maxTitles)
		}
	case bus.CommandPoll:
		pl.items = resolver.Resolve(ctx, inv.Args.String("titles"))
		pl.poll = true
	case bus.CommandGenerateMenu:
		pl.items = resolver.Resolve(ctx, inv.Metadata["target_content"])
		pl.kind = generate.KindSynopsis
		pl.threadWanted = true
	default:
		return pl, fmt.Sprintf("Unknown command `%s`.", inv.Command)
	}

	clean := pl.items[:0]
	for _, it := range pl.items {
		if it = strings.TrimSpace(it); it != "" {
			clean = append(clean, it)
		}
	}
	pl.items = clean

	if len(pl.items) == 0 {
		return pl, "I couldn't find any book titles in that. Try a comma-separated list."
	}
	if len(pl.items) > p.maxTitles {
		return pl, fmt.Sprintf("Too many books (%d > %d). Please narrow it down.", len(pl.items), p.maxTitles)
	}

	pl.threadName = threadName(inv.Command, pl.items)
	return pl, ""
}

func (p *Pipeline) generateAll(ctx context.Context, inv bus.Invocation, pl plan) []Result {
	results := make([]Result, len(pl.items))

	enrichment := ""
	if p.searcher != nil && pl.kind == generate.KindRecommendations {
		enrichment = p.searcher.Lookup(ctx, "books similar to "+pl.basedOn)
	}

	var wg sync.WaitGroup
	for i, item := range pl.items {
		wg.Add(1)
		go func(idx int, title string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF("pipeline", "panic in generation worker", map[string]interface{}{
						"item":           utils.Truncate(title, 80),
						"correlation_id": inv.CorrelationID,
						"panic":          fmt.Sprintf("%v", r),
					})
					results[idx] = Result{Item: title, OK: false, ErrText: "internal error"}
				}
			}()
			text, err := p.generator.Generate(ctx, generate.Task{
				Provider: inv.Provider,
				Title:    title,
				Kind:     pl.kind,
				BasedOn:  pl.basedOn,
				Context:  enrichment,
				Count:    pl.count,
			})
			if err != nil {
				logger.WarnCF("pipeline", "generation failed for work item", map[string]interface{}{
					"item":           utils.Truncate(title, 80),
					"correlation_id": inv.CorrelationID,
					"error":          err.Error(),
				})
				results[idx] = Result{Item: title, OK: false, ErrText: err.Error()}
				return
			}
			results[idx] = Result{Item: title, Artifact: text, OK: true}
		}(i, item)
	}
	wg.Wait()
	return results
}

// deliver posts every result in original order. A failed post drops the rest
// of that artifact's chunks only; the loop continues with the next artifact.
func (p *Pipeline) deliver(ctx context.Context, inv bus.Invocation, target Target, results []Result) {
	if target.FallbackNotice != "" {
		if err := p.transport.PostMessage(target.ChannelID, target.FallbackNotice); err != nil {
			logger.WarnCF("pipeline", "failed to post routing fallback notice", map[string]interface{}{
				"error": err.Error(),
			})
		}
		p.sleep(ctx, p.artifactDelay)
	}

	for i, r := range results {
		if i > 0 {
			p.sleep(ctx, p.artifactDelay)
		}
		content := formatArtifact(r)
		chunks := chunker.Split(content, p.maxMessageLen)
		for j, chunk := range chunks {
			if j > 0 {
				p.sleep(ctx, p.chunkDelay)
			}
			if err := p.transport.PostMessage(target.ChannelID, chunk); err != nil {
				logger.ErrorCF("pipeline", "post failed, dropping remaining chunks", map[string]interface{}{
					"item":           utils.Truncate(r.Item, 80),
					"chunk":          j + 1,
					"chunks":         len(chunks),
					"correlation_id": inv.CorrelationID,
					"error":          err.Error(),
				})
				break
			}
		}
	}
}

func (p *Pipeline) deliverPoll(inv bus.Invocation, pl plan) error {
	question := "📊 Which book should we read next?"
	if err := p.transport.PostPoll(inv.ChannelID, question, pl.items); err != nil {
		logger.ErrorCF("pipeline", "poll post failed", map[string]interface{}{
			"correlation_id": inv.CorrelationID,
			"error":          err.Error(),
		})
		p.followUp(inv, "I couldn't post the poll in this channel.", true)
		return nil
	}
	p.followUp(inv, fmt.Sprintf("Poll posted with %d options.", len(pl.items)), false)
	return nil
}

func (p *Pipeline) followUp(inv bus.Invocation, content string, ephemeral bool) {
	if err := p.transport.FollowUp(inv, content, ephemeral); err != nil {
		logger.WarnCF("pipeline", "follow-up failed", map[string]interface{}{
			"command":        inv.Command,
			"correlation_id": inv.CorrelationID,
			"error":          err.Error(),
		})
	}
}

func formatArtifact(r Result) string {
	if !r.OK {
		return fmt.Sprintf("⚠️ **%s** — generation failed: %s", r.Item, r.ErrText)
	}
	return fmt.Sprintf("**%s**\n\n%s", r.Item, r.Artifact)
}

func threadName(command string, items []string) string {
	switch {
	case len(items) == 1:
		return items[0]
	case command == bus.CommandGenerateMenu || command == bus.CommandSynopsisBatch:
		return fmt.Sprintf("Synopses: %s", strings.Join(items, ", "))
	default:
		return strings.Join(items, ", ")
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// extractorFunc adapts a closure to the titles.Extractor interface.
type extractorFunc func(ctx context.Context, text string) ([]string, error)

func (f extractorFunc) ExtractTitles(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}
