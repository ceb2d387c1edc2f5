package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/input"
	"agent-bridge/internal/ports/output"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// User-facing replies. Nothing below the dispatcher produces text meant for the user.
const (
	ReplyFallbackApology = "Sorry, I couldn't put together an answer this time. Please try asking again."
	ReplyTimedOut        = "Sorry, that took too long to answer. Please try again in a moment."
	ReplyStreamError     = "Something went wrong while I was answering. Please try again."
	ReplyUnavailable     = "The service is temporarily unavailable. Please try again later."
	ReplyEmptyTurn       = "I didn't receive anything to answer. Send a message or a file to get started."
	ReplyStorageError    = "I couldn't store your attachment right now. Please try again later."
)

// maxParallelNormalize bounds how many attachments of one turn are converted at once
const maxParallelNormalize = 4

// TurnDispatcher struct - Application service running one inbound message through to a reply
type TurnDispatcher struct {
	directory  input.SessionDirectory
	cache      output.SessionCache
	normalizer input.MediaNormalizer
	artifacts  input.ArtifactStore
	aggregator input.ResponseAggregator
	backend    output.BackendClient
	appName    string
}

// NewTurnDispatcher func - Creates new turn dispatcher
func NewTurnDispatcher(
	directory input.SessionDirectory,
	cache output.SessionCache,
	normalizer input.MediaNormalizer,
	artifacts input.ArtifactStore,
	aggregator input.ResponseAggregator,
	backend output.BackendClient,
	appName string,
) *TurnDispatcher {
	return &TurnDispatcher{
		directory:  directory,
		cache:      cache,
		normalizer: normalizer,
		artifacts:  artifacts,
		aggregator: aggregator,
		backend:    backend,
		appName:    appName,
	}
}

// normalizedAttachment is the outcome of normalizing one attachment
type normalizedAttachment struct {
	media *domain.NormalizedMedia
	err   error
}

// HandleTurn func - Use case: resolve session, store attachments, submit, aggregate
func (d *TurnDispatcher) HandleTurn(ctx context.Context, externalUserID, text string, attachments []domain.Attachment) (*domain.TurnReply, error) {
	session, err := d.resolveSession(ctx, externalUserID)
	if err != nil {
		logrus.Errorf("Failed to resolve session: userID=%s, err=%v", externalUserID, err)
		return &domain.TurnReply{Text: ReplyUnavailable, Outcome: domain.TurnOutcomeUnavailable}, err
	}

	parts, notices, err := d.prepareAttachments(ctx, session, attachments)
	if err != nil {
		logrus.Errorf("Failed to store attachments: userID=%s, err=%v", externalUserID, err)
		return &domain.TurnReply{
			Text:             ReplyStorageError,
			Outcome:          domain.TurnOutcomeFailed,
			BackendSessionID: session.BackendSessionID,
		}, err
	}

	if strings.TrimSpace(text) == "" && len(parts) == 0 {
		if len(notices) > 0 {
			return &domain.TurnReply{
				Text:             strings.Join(notices, "\n\n"),
				Outcome:          domain.TurnOutcomeAttachmentRejected,
				BackendSessionID: session.BackendSessionID,
			}, nil
		}
		return &domain.TurnReply{
			Text:             ReplyEmptyTurn,
			Outcome:          domain.TurnOutcomeFailed,
			BackendSessionID: session.BackendSessionID,
		}, fmt.Errorf("%w: turn has no text and no attachments", domain.ErrInvalidRequest)
	}

	// Cancelling on return releases the stream reader once aggregation has stopped
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	turn := domain.PendingTurn{
		ExternalUserID:   externalUserID,
		BackendSessionID: session.BackendSessionID,
		Text:             text,
		Parts:            parts,
	}

	response, err := d.submitWithSessionRecovery(turnCtx, &turn)
	if err != nil {
		logrus.Errorf("Turn submission failed: userID=%s, sessionID=%s, err=%v", externalUserID, turn.BackendSessionID, err)
		return &domain.TurnReply{
			Text:             withNotices(ReplyUnavailable, notices),
			Outcome:          domain.TurnOutcomeUnavailable,
			BackendSessionID: turn.BackendSessionID,
		}, err
	}

	scope := domain.ArtifactKey{
		AppName:   d.appName,
		UserID:    externalUserID,
		SessionID: turn.BackendSessionID,
	}
	aggregated := d.aggregator.Aggregate(turnCtx, response, scope)

	reply := &domain.TurnReply{
		Images:           aggregated.Images,
		BackendSessionID: turn.BackendSessionID,
	}

	switch aggregated.State {
	case domain.AggregatorTimedOut:
		reply.Outcome = domain.TurnOutcomeDegraded
		reply.Text = aggregated.Text
		if !aggregated.HasText {
			reply.Text = ReplyTimedOut
		}

	case domain.AggregatorStreamError:
		logrus.Errorf("Response stream failed: userID=%s, err=%v", externalUserID, aggregated.Err)
		reply.Outcome = domain.TurnOutcomeFailed
		reply.Text = withNotices(ReplyStreamError, notices)
		reply.Images = nil
		return reply, aggregated.Err

	default:
		reply.Outcome = domain.TurnOutcomeReplied
		reply.Text = aggregated.Text
		if !aggregated.HasText && len(aggregated.Images) == 0 {
			reply.Outcome = domain.TurnOutcomeDegraded
			reply.Text = ReplyFallbackApology
		}
	}

	reply.Text = withNotices(reply.Text, notices)
	return reply, nil
}

// ResetSession func - Use case: forget the user's session so the next turn opens a new one
func (d *TurnDispatcher) ResetSession(ctx context.Context, externalUserID string) error {
	d.cache.Delete(externalUserID)
	if err := d.directory.ForgetSession(ctx, externalUserID); err != nil {
		return err
	}
	logrus.Infof("Session reset: userID=%s", externalUserID)
	return nil
}

// resolveSession consults the in-memory cache before the durable directory
func (d *TurnDispatcher) resolveSession(ctx context.Context, externalUserID string) (*domain.UserSession, error) {
	if session, ok := d.cache.Get(externalUserID); ok {
		return session, nil
	}

	session, err := d.directory.ResolveSession(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	d.cache.Put(session)
	return session, nil
}

// prepareAttachments normalizes attachments concurrently, then saves them in arrival order.
// Attachments that fail normalization are dropped with a notice; a failed save aborts the turn.
func (d *TurnDispatcher) prepareAttachments(ctx context.Context, session *domain.UserSession, attachments []domain.Attachment) ([]domain.InlinePart, []string, error) {
	if len(attachments) == 0 {
		return nil, nil, nil
	}

	results := make([]normalizedAttachment, len(attachments))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelNormalize)
	for i, attachment := range attachments {
		g.Go(func() error {
			media, err := d.normalizer.Normalize(attachment)
			results[i] = normalizedAttachment{media: media, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	parts := make([]domain.InlinePart, 0, len(results))
	var notices []string
	for i, result := range results {
		if result.err != nil {
			logrus.Warnf("Attachment rejected: userID=%s, index=%d, err=%v", session.ExternalUserID, i, result.err)
			notices = append(notices, attachmentNotice(attachments[i], result.err))
			continue
		}

		key := domain.ArtifactKey{
			AppName:   d.appName,
			UserID:    session.ExternalUserID,
			SessionID: session.BackendSessionID,
			Filename:  result.media.Filename,
		}
		version, err := d.artifacts.Save(ctx, key, result.media.MimeType, result.media.Payload)
		if err != nil {
			return nil, nil, err
		}
		logrus.Infof("Stored attachment: userID=%s, file=%s, version=%d, converted=%t",
			session.ExternalUserID, result.media.Filename, version, result.media.Converted)

		parts = append(parts, domain.InlinePart{
			MimeType: result.media.MimeType,
			Data:     result.media.Payload,
		})
	}
	return parts, notices, nil
}

// submitWithSessionRecovery submits the turn, replacing the session and retrying exactly once
// when the backend reports a session fault. turn is updated with the session actually used.
func (d *TurnDispatcher) submitWithSessionRecovery(ctx context.Context, turn *domain.PendingTurn) (*domain.TurnResponse, error) {
	response, err := d.backend.SubmitTurn(ctx, *turn)
	if err == nil {
		return response, nil
	}
	if !errors.Is(err, domain.ErrSessionFault) {
		return nil, err
	}

	logrus.Warnf("Backend session fault, replacing session: userID=%s, sessionID=%s, err=%v",
		turn.ExternalUserID, turn.BackendSessionID, err)

	newSessionID, err := d.directory.CreateBackendSession(ctx, turn.ExternalUserID)
	if err != nil {
		return nil, err
	}
	session, err := d.directory.ReplaceSession(ctx, turn.ExternalUserID, newSessionID)
	if err != nil {
		return nil, err
	}
	d.cache.Put(session)

	turn.BackendSessionID = newSessionID
	response, err = d.backend.SubmitTurn(ctx, *turn)
	if err != nil {
		return nil, fmt.Errorf("retry after session replacement: %w", err)
	}
	return response, nil
}

func attachmentNotice(attachment domain.Attachment, err error) string {
	name := attachment.Filename
	if name == "" {
		name = "your attachment"
	} else {
		name = fmt.Sprintf("%q", name)
	}

	var conversionErr *domain.ConversionError
	switch {
	case errors.As(err, &conversionErr):
		return fmt.Sprintf("I couldn't open %s. It doesn't look like a valid %s, please send a valid %s file.",
			name, conversionErr.Format.DisplayName(), conversionErr.Format.Extension())
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return fmt.Sprintf("%s is too large for me to process. Please send a smaller file.", capitalize(name))
	case errors.Is(err, domain.ErrEmptyPayload):
		return fmt.Sprintf("%s arrived empty. Please send it again.", capitalize(name))
	default:
		return fmt.Sprintf("I couldn't process %s. Please try a different file.", name)
	}
}

func withNotices(text string, notices []string) string {
	if len(notices) == 0 {
		return text
	}
	return text + "\n\n" + strings.Join(notices, "\n\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
