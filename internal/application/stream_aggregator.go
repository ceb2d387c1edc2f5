package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/input"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

// DefaultStreamTimeoutMultiplier scales the backend request timeout into the stream bound
const DefaultStreamTimeoutMultiplier = 2

// Only artifact references with these extensions are resolved into reply images
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// textAccumulator folds successive text deltas into the running answer
type textAccumulator interface {
	apply(text string, final bool)
	current() string
}

// cumulativeAccumulator keeps the latest fragment's text; each fragment already holds everything so far.
// An empty closing fragment keeps the streamed text.
type cumulativeAccumulator struct {
	text string
}

func (a *cumulativeAccumulator) apply(text string, final bool) {
	if final && text == "" {
		return
	}
	a.text = text
}

func (a *cumulativeAccumulator) current() string {
	return a.text
}

// incrementalAccumulator appends partial deltas. A non-empty closing fragment repeats the
// whole answer and replaces what was appended; an empty one keeps it.
type incrementalAccumulator struct {
	b strings.Builder
}

func (a *incrementalAccumulator) apply(text string, final bool) {
	if final {
		if text == "" {
			return
		}
		a.b.Reset()
	}
	a.b.WriteString(text)
}

func (a *incrementalAccumulator) current() string {
	return a.b.String()
}

func newTextAccumulator(mode domain.DeltaMode) textAccumulator {
	if mode == domain.DeltaModeCumulative {
		return &cumulativeAccumulator{}
	}
	return &incrementalAccumulator{}
}

// StreamAggregator struct - Coalesces a backend response into a single reply
type StreamAggregator struct {
	artifacts input.ArtifactStore
	timeout   time.Duration
}

// NewStreamAggregator func - Creates new stream aggregator.
// The absolute stream bound is multiplier times the backend request timeout.
func NewStreamAggregator(artifacts input.ArtifactStore, requestTimeout time.Duration, multiplier int) *StreamAggregator {
	if multiplier <= 0 {
		multiplier = DefaultStreamTimeoutMultiplier
	}
	return &StreamAggregator{
		artifacts: artifacts,
		timeout:   requestTimeout * time.Duration(multiplier),
	}
}

// aggregation holds the state of one response; it never outlives the call
type aggregation struct {
	state  domain.AggregatorState
	text   textAccumulator
	images []domain.InlinePart
}

func (g *aggregation) reply(state domain.AggregatorState, err error) *domain.AggregatedReply {
	g.state = state
	text := g.text.current()
	return &domain.AggregatedReply{
		State:   state,
		Text:    text,
		HasText: text != "",
		Images:  g.images,
		Err:     err,
	}
}

// Aggregate func - Use case: run the response state machine to a terminal state
func (a *StreamAggregator) Aggregate(ctx context.Context, response *domain.TurnResponse, artifactScope domain.ArtifactKey) *domain.AggregatedReply {
	g := &aggregation{
		state: domain.AggregatorAwaitingFragments,
		text:  newTextAccumulator(response.Mode),
	}

	if response.Envelope != nil {
		envelope := *response.Envelope
		if envelope.Err != nil {
			return g.reply(domain.AggregatorStreamError, fmt.Errorf("%w: %w", domain.ErrStreamFailed, envelope.Err))
		}
		envelope.IsPartial = false
		a.apply(ctx, g, envelope, artifactScope)
		return g.reply(domain.AggregatorFinalized, nil)
	}

	if response.Stream == nil {
		return g.reply(domain.AggregatorStreamError, fmt.Errorf("%w: response carried neither stream nor envelope", domain.ErrStreamFailed))
	}

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			logrus.Warnf("Response stream timed out after %s: state=%s, hasText=%t", a.timeout, g.state, g.text.current() != "")
			return g.reply(domain.AggregatorTimedOut, nil)

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logrus.Warnf("Response stream deadline exceeded: state=%s", g.state)
				return g.reply(domain.AggregatorTimedOut, nil)
			}
			return g.reply(domain.AggregatorStreamError, fmt.Errorf("%w: %v", domain.ErrStreamFailed, ctx.Err()))

		case fragment, ok := <-response.Stream:
			if !ok {
				// Stream ended without a closing fragment
				return g.reply(domain.AggregatorFinalized, nil)
			}
			if fragment.Err != nil {
				return g.reply(domain.AggregatorStreamError, fmt.Errorf("%w: %w", domain.ErrStreamFailed, fragment.Err))
			}

			a.apply(ctx, g, fragment, artifactScope)
			if !fragment.IsPartial {
				return g.reply(domain.AggregatorFinalized, nil)
			}
		}
	}
}

func (a *StreamAggregator) apply(ctx context.Context, g *aggregation, fragment domain.StreamFragment, scope domain.ArtifactKey) {
	g.state = domain.AggregatorAccumulating

	if fragment.TextDelta != nil {
		g.text.apply(*fragment.TextDelta, !fragment.IsPartial)
	}

	for _, part := range fragment.InlineParts {
		if len(part.Data) == 0 {
			continue
		}
		g.images = append(g.images, part)
	}

	for _, filename := range fragment.ArtifactReferences {
		if image, ok := a.resolveImage(ctx, scope, filename); ok {
			g.images = append(g.images, image)
		}
	}
}

// resolveImage loads an image artifact the backend referenced by name. Misses are logged and skipped.
func (a *StreamAggregator) resolveImage(ctx context.Context, scope domain.ArtifactKey, filename string) (domain.InlinePart, bool) {
	if !imageExtensions[strings.ToLower(filepath.Ext(filename))] {
		logrus.Debugf("Ignoring non-image artifact reference: %s", filename)
		return domain.InlinePart{}, false
	}

	key := scope
	key.Filename = filename
	artifact, err := a.artifacts.LoadLatest(ctx, key, domain.LatestBySentinel)
	if err != nil {
		logrus.Warnf("Could not resolve artifact reference %q: %v", filename, err)
		return domain.InlinePart{}, false
	}

	mimeType := artifact.MimeType
	if mimeType == "" {
		mimeType = baseMimeType(mimetype.Detect(artifact.Payload).String())
	}
	return domain.InlinePart{MimeType: mimeType, Data: artifact.Payload}, true
}
