package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inkwellbot/inkwell/pkg/bus"
	"github.com/inkwellbot/inkwell/pkg/generate"
	"github.com/inkwellbot/inkwell/pkg/providers"
)

type post struct {
	channelID string
	content   string
}

type followUp struct {
	content   string
	ephemeral bool
}

type fakeTransport struct {
	mu         sync.Mutex
	posts      []post
	followUps  []followUp
	polls      [][]string
	failThread bool
	failPostOn string // posts containing this substring fail
	failOnCall int    // 1-based: the Nth PostMessage call fails
	postCalls  int
	threadID   string

	threadCalls      int
	fromMessageCalls int
	lastThreadName   string
}

func (f *fakeTransport) FollowUp(_ bus.Invocation, content string, ephemeral bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followUps = append(f.followUps, followUp{content, ephemeral})
	return nil
}

func (f *fakeTransport) PostMessage(channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	if f.failOnCall > 0 && f.postCalls == f.failOnCall {
		return errors.New("post rejected")
	}
	if f.failPostOn != "" && strings.Contains(content, f.failPostOn) {
		return errors.New("post rejected")
	}
	f.posts = append(f.posts, post{channelID, content})
	return nil
}

func (f *fakeTransport) CreateThreadFromMessage(_, _, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fromMessageCalls++
	f.lastThreadName = name
	if f.failThread {
		return "", errors.New("missing permission")
	}
	return f.threadID, nil
}

func (f *fakeTransport) CreateThread(_, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadCalls++
	f.lastThreadName = name
	if f.failThread {
		return "", errors.New("missing permission")
	}
	return f.threadID, nil
}

func (f *fakeTransport) PostPoll(_, _ string, options []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, options)
	return nil
}

// fakeGenerator serves canned outputs per title and records call counts.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	failOn  map[string]bool
	panicOn map[string]bool
	outputs map[string]string // canned artifact text keyed by title
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(_ context.Context, req providers.Request) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	for title := range g.panicOn {
		if strings.Contains(req.Prompt, title) {
			panic("provider exploded")
		}
	}
	for title := range g.failOn {
		if strings.Contains(req.Prompt, title) {
			return "", &providers.ProviderError{Provider: "fake", Message: "rate limited"}
		}
	}
	for title, out := range g.outputs {
		if strings.Contains(req.Prompt, title) {
			return out, nil
		}
	}
	return "generated: " + req.Prompt, nil
}

func (g *fakeGenerator) ExtractTitles(context.Context, string) ([]string, error) {
	return nil, errors.New("no extraction in tests")
}

type env struct {
	transport *fakeTransport
	pipeline  *Pipeline
	sleeps    *[]time.Duration
}

func newEnv(t *testing.T, gen *fakeGenerator) *env {
	return newEnvMax(t, gen, 1900)
}

func newEnvMax(t *testing.T, gen *fakeGenerator, maxMessageLen int) *env {
	t.Helper()
	registry := providers.NewRegistry()
	registry.Register(gen)

	transport := &fakeTransport{threadID: "thread-1"}
	var sleeps []time.Duration
	p := New(Options{
		Queue:         bus.NewQueue(4),
		Transport:     transport,
		Generator:     generate.NewClient(registry, nil),
		MaxTitles:     10,
		MaxMessageLen: maxMessageLen,
		ChunkDelay:    100 * time.Millisecond,
		ArtifactDelay: 250 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) {
			if d > 0 {
				sleeps = append(sleeps, d)
			}
		},
	})
	return &env{transport: transport, pipeline: p, sleeps: &sleeps}
}

func invocation(command string, args bus.Args) bus.Invocation {
	return bus.Invocation{
		Command:       command,
		Args:          args,
		ChannelID:     "chan-1",
		Token:         "tok",
		Provider:      "fake",
		CorrelationID: "corr-1",
	}
}

func TestSingleSynopsisDeliversToChannel(t *testing.T) {
	e := newEnv(t, &fakeGenerator{})
	e.pipeline.Process(context.Background(), invocation(bus.CommandSynopsis, bus.Args{"title": "Dune"}))

	if len(e.transport.posts) != 1 {
		t.Fatalf("posts = %d", len(e.transport.posts))
	}
	if e.transport.posts[0].channelID != "chan-1" {
		t.Errorf("delivered to %q", e.transport.posts[0].channelID)
	}
	if !strings.HasPrefix(e.transport.posts[0].content, "**Dune**") {
		t.Errorf("artifact missing title header: %q", e.transport.posts[0].content)
	}
	if len(e.transport.followUps) != 1 || !strings.Contains(e.transport.followUps[0].content, "1 of 1") {
		t.Errorf("followUps = %+v", e.transport.followUps)
	}
	if e.transport.threadCalls != 0 {
		t.Errorf("unexpected thread creation")
	}
}

func TestBatchPreservesOrderWithPartialFailure(t *testing.T) {
	gen := &fakeGenerator{failOn: map[string]bool{"1984": true}}
	e := newEnv(t, gen)
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsisBatch, bus.Args{"titles": "Dune, 1984, Foundation"}))

	if len(e.transport.posts) != 3 {
		t.Fatalf("posts = %d", len(e.transport.posts))
	}
	for i, want := range []string{"Dune", "1984", "Foundation"} {
		if !strings.Contains(e.transport.posts[i].content, want) {
			t.Errorf("post %d = %q, want it to mention %s", i, e.transport.posts[i].content, want)
		}
	}
	if !strings.Contains(e.transport.posts[1].content, "generation failed") {
		t.Errorf("failed item not marked: %q", e.transport.posts[1].content)
	}
	if !strings.Contains(e.transport.posts[1].content, "rate limited") {
		t.Errorf("provider message lost: %q", e.transport.posts[1].content)
	}
	if len(e.transport.followUps) != 1 || !strings.Contains(e.transport.followUps[0].content, "2 of 3") {
		t.Errorf("followUps = %+v", e.transport.followUps)
	}
}

func TestTooManyTitlesShortCircuits(t *testing.T) {
	gen := &fakeGenerator{}
	e := newEnv(t, gen)

	titles := make([]string, 11)
	for i := range titles {
		titles[i] = fmt.Sprintf("Book %d", i+1)
	}
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsisBatch, bus.Args{"titles": strings.Join(titles, ", ")}))

	if gen.calls != 0 {
		t.Errorf("generator called %d times", gen.calls)
	}
	if len(e.transport.posts) != 0 {
		t.Errorf("posts = %d", len(e.transport.posts))
	}
	if len(e.transport.followUps) != 1 {
		t.Fatalf("followUps = %+v", e.transport.followUps)
	}
	fu := e.transport.followUps[0]
	if !strings.Contains(fu.content, "Too many books") || !fu.ephemeral {
		t.Errorf("diagnostic = %+v", fu)
	}
}

func TestUnresolvableInputShortCircuits(t *testing.T) {
	gen := &fakeGenerator{}
	e := newEnv(t, gen)

	// The extractor fake always errors, so conversational text resolves to
	// nothing.
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsisBatch, bus.Args{"titles": "we were thinking about a few things"}))

	if gen.calls != 0 {
		t.Errorf("generator calls = %d", gen.calls)
	}
	if len(e.transport.posts) != 0 {
		t.Errorf("posts = %d", len(e.transport.posts))
	}
	if len(e.transport.followUps) != 1 || !strings.Contains(e.transport.followUps[0].content, "couldn't find any book titles") {
		t.Errorf("followUps = %+v", e.transport.followUps)
	}
}

func TestThreadDelivery(t *testing.T) {
	e := newEnv(t, &fakeGenerator{})
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsis, bus.Args{"title": "Dune", "use-thread": true}))

	if e.transport.threadCalls != 1 {
		t.Fatalf("threadCalls = %d", e.transport.threadCalls)
	}
	if e.transport.lastThreadName != "Dune" {
		t.Errorf("thread name = %q", e.transport.lastThreadName)
	}
	if len(e.transport.posts) != 1 || e.transport.posts[0].channelID != "thread-1" {
		t.Errorf("posts = %+v", e.transport.posts)
	}
	if !strings.Contains(e.transport.followUps[0].content, "<#thread-1>") {
		t.Errorf("final ack missing thread link: %q", e.transport.followUps[0].content)
	}
}

func TestThreadFailureFallsBackToChannel(t *testing.T) {
	e := newEnv(t, &fakeGenerator{})
	e.transport.failThread = true
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsis, bus.Args{"title": "Dune", "use-thread": true}))

	if len(e.transport.posts) != 2 {
		t.Fatalf("posts = %+v", e.transport.posts)
	}
	if !strings.Contains(e.transport.posts[0].content, "Couldn't create a thread") {
		t.Errorf("missing fallback notice: %q", e.transport.posts[0].content)
	}
	if e.transport.posts[1].channelID != "chan-1" {
		t.Errorf("fallback delivery went to %q", e.transport.posts[1].channelID)
	}
	if len(e.transport.followUps) != 1 || !strings.Contains(e.transport.followUps[0].content, "1 of 1") {
		t.Errorf("followUps = %+v", e.transport.followUps)
	}
}

func TestContextMenuRootsThreadAtMessage(t *testing.T) {
	e := newEnv(t, &fakeGenerator{})
	inv := invocation(bus.CommandGenerateMenu, bus.Args{})
	inv.TargetMessage = "msg-9"
	inv.Metadata = map[string]string{"target_content": "Dune, Foundation"}

	e.pipeline.Process(context.Background(), inv)

	if e.transport.fromMessageCalls != 1 {
		t.Fatalf("fromMessageCalls = %d", e.transport.fromMessageCalls)
	}
	if e.transport.threadCalls != 0 {
		t.Errorf("freestanding thread created unexpectedly")
	}
	if len(e.transport.posts) != 2 {
		t.Errorf("posts = %d", len(e.transport.posts))
	}
}

func TestDeliveryPacing(t *testing.T) {
	e := newEnv(t, &fakeGenerator{})
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsisBatch, bus.Args{"titles": "Dune, Foundation"}))

	// Two single-chunk artifacts: exactly one inter-artifact delay.
	if len(*e.sleeps) != 1 {
		t.Fatalf("sleeps = %v", *e.sleeps)
	}
	if (*e.sleeps)[0] != 250*time.Millisecond {
		t.Errorf("artifact delay = %v", (*e.sleeps)[0])
	}
}

// paragraphs builds n fixed-width paragraphs so chunk boundaries are
// deterministic at small message lengths.
func paragraphs(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("paragraph %02d %s", i+1, strings.Repeat("x", 50))
	}
	return strings.Join(parts, "\n\n")
}

func TestLongArtifactChunksInOrderWithChunkDelays(t *testing.T) {
	gen := &fakeGenerator{outputs: map[string]string{"Dune": paragraphs(4)}}
	e := newEnvMax(t, gen, 100)
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsis, bus.Args{"title": "Dune"}))

	if len(e.transport.posts) != 4 {
		t.Fatalf("posts = %d: %q", len(e.transport.posts), e.transport.posts)
	}
	if !strings.HasPrefix(e.transport.posts[0].content, "**Dune**") {
		t.Errorf("first chunk missing header: %q", e.transport.posts[0].content)
	}
	for i, want := range []string{"paragraph 01", "paragraph 02", "paragraph 03", "paragraph 04"} {
		if !strings.Contains(e.transport.posts[i].content, want) {
			t.Errorf("chunk %d = %q, want %s", i, e.transport.posts[i].content, want)
		}
		if len(e.transport.posts[i].content) > 100 {
			t.Errorf("chunk %d exceeds max len: %d", i, len(e.transport.posts[i].content))
		}
	}

	// Three successive chunk posts follow the first: three chunk delays.
	if len(*e.sleeps) != 3 {
		t.Fatalf("sleeps = %v", *e.sleeps)
	}
	for i, d := range *e.sleeps {
		if d != 100*time.Millisecond {
			t.Errorf("sleep %d = %v, want the chunk delay", i, d)
		}
	}
}

func TestChunkAndArtifactDelaysInterleave(t *testing.T) {
	gen := &fakeGenerator{outputs: map[string]string{
		"Dune":       paragraphs(2),
		"Foundation": "A tidy one-liner.",
	}}
	e := newEnvMax(t, gen, 100)
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsisBatch, bus.Args{"titles": "Dune, Foundation"}))

	if len(e.transport.posts) != 3 {
		t.Fatalf("posts = %d: %q", len(e.transport.posts), e.transport.posts)
	}
	want := []time.Duration{100 * time.Millisecond, 250 * time.Millisecond}
	if len(*e.sleeps) != len(want) {
		t.Fatalf("sleeps = %v", *e.sleeps)
	}
	for i := range want {
		if (*e.sleeps)[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, (*e.sleeps)[i], want[i])
		}
	}
}

func TestMidArtifactFailureDropsLaterChunksNotNextArtifact(t *testing.T) {
	gen := &fakeGenerator{outputs: map[string]string{
		"Dune":       paragraphs(4),
		"Foundation": "A tidy one-liner.",
	}}
	e := newEnvMax(t, gen, 100)
	e.transport.failOnCall = 2 // second chunk of the first artifact
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsisBatch, bus.Args{"titles": "Dune, Foundation"}))

	if len(e.transport.posts) != 2 {
		t.Fatalf("posts = %d: %q", len(e.transport.posts), e.transport.posts)
	}
	if !strings.Contains(e.transport.posts[0].content, "paragraph 01") {
		t.Errorf("first chunk = %q", e.transport.posts[0].content)
	}
	if !strings.Contains(e.transport.posts[1].content, "Foundation") {
		t.Errorf("next artifact lost: %q", e.transport.posts[1].content)
	}
	for _, p := range e.transport.posts {
		if strings.Contains(p.content, "paragraph 03") || strings.Contains(p.content, "paragraph 04") {
			t.Errorf("later chunk of failed artifact posted: %q", p.content)
		}
	}
	if len(e.transport.followUps) != 1 || !strings.Contains(e.transport.followUps[0].content, "2 of 2") {
		t.Errorf("followUps = %+v", e.transport.followUps)
	}
}

func TestPostFailureDropsRemainingChunksOnly(t *testing.T) {
	e := newEnv(t, &fakeGenerator{})
	e.transport.failPostOn = "Dune"
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsisBatch, bus.Args{"titles": "Dune, Foundation"}))

	if len(e.transport.posts) != 1 || !strings.Contains(e.transport.posts[0].content, "Foundation") {
		t.Errorf("posts = %+v", e.transport.posts)
	}
	// The invocation still completes with its final acknowledgment.
	if len(e.transport.followUps) != 1 || !strings.Contains(e.transport.followUps[0].content, "2 of 2") {
		t.Errorf("followUps = %+v", e.transport.followUps)
	}
}

func TestPollPostsBallot(t *testing.T) {
	gen := &fakeGenerator{}
	e := newEnv(t, gen)
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandPoll, bus.Args{"titles": "Dune, 1984, Foundation"}))

	if gen.calls != 0 {
		t.Errorf("poll should not generate, calls = %d", gen.calls)
	}
	if len(e.transport.polls) != 1 || len(e.transport.polls[0]) != 3 {
		t.Fatalf("polls = %+v", e.transport.polls)
	}
	if !strings.Contains(e.transport.followUps[0].content, "3 options") {
		t.Errorf("confirmation = %q", e.transport.followUps[0].content)
	}
}

func TestGenerationPanicDegradesToErrorArtifact(t *testing.T) {
	gen := &fakeGenerator{panicOn: map[string]bool{"Dune": true}}
	e := newEnv(t, gen)
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandSynopsisBatch, bus.Args{"titles": "Dune, Foundation"}))

	if len(e.transport.posts) != 2 {
		t.Fatalf("posts = %d", len(e.transport.posts))
	}
	if !strings.Contains(e.transport.posts[0].content, "generation failed") {
		t.Errorf("panic not degraded: %q", e.transport.posts[0].content)
	}
	if !strings.Contains(e.transport.posts[1].content, "Foundation") {
		t.Errorf("sibling lost: %q", e.transport.posts[1].content)
	}
}

func TestRecommendCountClamped(t *testing.T) {
	e := newEnv(t, &fakeGenerator{})
	e.pipeline.Process(context.Background(),
		invocation(bus.CommandRecommend, bus.Args{"based-on": "Dune", "count": 99}))

	if len(e.transport.posts) != 1 {
		t.Fatalf("posts = %d", len(e.transport.posts))
	}
	if !strings.Contains(e.transport.posts[0].content, "10 books") {
		t.Errorf("count not clamped: %q", e.transport.posts[0].content)
	}
}

func TestRunConsumesQueueUntilCancel(t *testing.T) {
	e := newEnv(t, &fakeGenerator{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.pipeline.Run(ctx)
		close(done)
	}()

	e.pipeline.queue.Publish(invocation(bus.CommandSynopsis, bus.Args{"title": "Dune"}))

	deadline := time.After(2 * time.Second)
	for {
		e.transport.mu.Lock()
		n := len(e.transport.followUps)
		e.transport.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("invocation never processed")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
