package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

const defaultFeedMaxPages = 50

// FeedLimits bounds how far ListItems follows a board feed. Zero MaxPages
// selects the default; zero MaxDuration disables the deadline.
type FeedLimits struct {
	MaxPages    int
	MaxDuration time.Duration
}

// SessionManager owns the Pinterest connection lifecycle for each user:
// disconnected (no record), expired (last probe or login failed) and
// connected. It depends only on port interfaces.
type SessionManager struct {
	store     driven.CredentialStore
	provider  driven.AccountProvider
	classify  ProbeClassifier
	telemetry driven.Telemetry
	limits    FeedLimits
	clock     clockwork.Clock
	locks     *userLocks
	logger    *slog.Logger
}

// SessionOption customizes a SessionManager.
type SessionOption func(*SessionManager)

// WithProbeClassifier replaces the default UniformClassifier.
func WithProbeClassifier(c ProbeClassifier) SessionOption {
	return func(m *SessionManager) { m.classify = c }
}

// WithSessionTelemetry reports transitions and probe outcomes to t.
func WithSessionTelemetry(t driven.Telemetry) SessionOption {
	return func(m *SessionManager) { m.telemetry = t }
}

// WithFeedLimits bounds ListItems pagination.
func WithFeedLimits(l FeedLimits) SessionOption {
	return func(m *SessionManager) { m.limits = l }
}

// WithSessionClock sets the clock used for the pagination deadline.
func WithSessionClock(c clockwork.Clock) SessionOption {
	return func(m *SessionManager) { m.clock = c }
}

// NewSessionManager creates a SessionManager with the required dependencies.
func NewSessionManager(store driven.CredentialStore, provider driven.AccountProvider, logger *slog.Logger, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:     store,
		provider:  provider,
		classify:  UniformClassifier,
		telemetry: driven.NopTelemetry{},
		limits:    FeedLimits{MaxPages: defaultFeedMaxPages},
		clock:     clockwork.NewRealClock(),
		locks:     newUserLocks(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.limits.MaxPages <= 0 {
		m.limits.MaxPages = defaultFeedMaxPages
	}
	return m
}

// Status reports the connection state for userID.
//
// Status is not read-only: when a record exists it probes the provider and
// persists the outcome to the record's validity flag and last-validated
// timestamp before returning. A user without a record is disconnected and the
// provider is not contacted.
func (m *SessionManager) Status(ctx context.Context, userID string) (model.SessionState, error) {
	if userID == "" {
		return "", model.ValidationError("user_id is required")
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	rec, err := m.store.Get(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return model.SessionDisconnected, nil
	}
	if err != nil {
		return "", err
	}

	result := m.Probe(ctx, userID)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := m.markValidity(ctx, rec, result.Valid); err != nil {
		return "", err
	}
	return result.State(), nil
}

// Probe runs one liveness probe for userID without touching the store.
func (m *SessionManager) Probe(ctx context.Context, userID string) model.ProbeResult {
	err := m.provider.Probe(ctx, userID)
	result := model.ProbeResult{Valid: err == nil}
	if err != nil {
		result.Failure = m.classify(err)
		result.Err = err
		m.logger.Warn("session probe failed", "user_id", userID, "failure", result.Failure, "error", err)
	}
	m.telemetry.ProbeCompleted(result)
	return result
}

// RecordProbe persists a probe outcome to userID's record.
func (m *SessionManager) RecordProbe(ctx context.Context, userID string, result model.ProbeResult) (*model.CredentialRecord, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.markValidity(ctx, rec, result.Valid)
}

// EnsureAuthenticated probes the session and, if the probe fails, attempts a
// single re-login with the stored credential. It returns true iff the session
// is usable afterwards. Concurrent calls for the same user are serialized, so
// only one of them re-logs in.
func (m *SessionManager) EnsureAuthenticated(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, model.ValidationError("user_id is required")
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return m.ensure(ctx, rec)
}

// Login authenticates userID with the stored credential.
func (m *SessionManager) Login(ctx context.Context, userID string) error {
	if userID == "" {
		return model.ValidationError("user_id is required")
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		return err
	}

	_, ok, err := m.login(ctx, rec)
	if err != nil {
		return err
	}
	if !ok {
		return model.AuthenticationError("pinterest login failed for user %q", userID)
	}
	return nil
}

// Connect stores the submitted credential and attempts a login with it. The
// record is committed even when the login fails; the resulting state reports
// the login outcome.
func (m *SessionManager) Connect(ctx context.Context, userID, username, contact, secret string) (*model.CredentialRecord, model.SessionState, error) {
	if userID == "" {
		return nil, "", model.ValidationError("user_id is required")
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	rec, err := m.store.Upsert(ctx, userID, username, contact, secret)
	if err != nil {
		return nil, "", err
	}

	updated, ok, err := m.login(ctx, rec)
	if err != nil {
		return rec, "", err
	}
	if ok {
		return updated, model.SessionConnected, nil
	}
	return updated, model.SessionExpired, nil
}

// Disconnect removes userID's record and drops any provider session.
// It reports whether a record existed.
func (m *SessionManager) Disconnect(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, model.ValidationError("user_id is required")
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	from := model.SessionExpired
	if rec, err := m.store.Get(ctx, userID); err == nil && rec.SessionValid {
		from = model.SessionConnected
	}

	m.provider.Forget(userID)
	deleted, err := m.store.Delete(ctx, userID)
	if err != nil {
		return false, err
	}
	if deleted {
		m.telemetry.SessionTransition(from, model.SessionDisconnected)
		m.logger.Info("pinterest account disconnected", "user_id", userID)
	}
	return deleted, nil
}

// ListCollections returns every board of userID's linked account.
func (m *SessionManager) ListCollections(ctx context.Context, userID string) ([]model.Collection, error) {
	rec, err := m.authenticated(ctx, userID)
	if err != nil {
		return nil, err
	}

	boards, err := m.provider.ListBoards(ctx, userID, rec.Username)
	if err != nil {
		m.logger.Error("failed to list boards", "user_id", userID, "error", err)
		return nil, model.ProviderError("list boards", err)
	}
	if boards == nil {
		boards = []model.Collection{}
	}
	return boards, nil
}

// ListItems returns a lazy sequence over every pin of a board. Nothing is
// fetched until the sequence is ranged over. The feed is followed until the
// provider returns an empty page or reports its end; exceeding the configured
// page or time budget yields a model.ErrPaginationLimit error and stops.
func (m *SessionManager) ListItems(ctx context.Context, userID, collectionID string) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		if collectionID == "" {
			yield(model.Item{}, model.ValidationError("board id is required"))
			return
		}

		if _, err := m.authenticated(ctx, userID); err != nil {
			yield(model.Item{}, err)
			return
		}

		start := m.clock.Now()
		cursor := ""
		for page := 0; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(model.Item{}, err)
				return
			}
			if page >= m.limits.MaxPages {
				yield(model.Item{}, m.limitError(collectionID, fmt.Sprintf("%d pages", m.limits.MaxPages)))
				return
			}
			if m.limits.MaxDuration > 0 && m.clock.Since(start) >= m.limits.MaxDuration {
				yield(model.Item{}, m.limitError(collectionID, m.limits.MaxDuration.String()))
				return
			}

			batch, err := m.provider.BoardFeedPage(ctx, userID, collectionID, cursor)
			if err != nil {
				m.logger.Error("failed to fetch board feed", "user_id", userID, "board_id", collectionID, "page", page, "error", err)
				yield(model.Item{}, model.ProviderError("board feed", err))
				return
			}
			if len(batch.Items) == 0 {
				return
			}

			for _, item := range batch.Items {
				if !yield(item, nil) {
					return
				}
			}

			if batch.Cursor == "" {
				return
			}
			cursor = batch.Cursor
		}
	}
}

// authenticated loads userID's record and ensures its session under the
// user's lock.
func (m *SessionManager) authenticated(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	if userID == "" {
		return nil, model.ValidationError("user_id is required")
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	ok, err := m.ensure(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.AuthenticationError("pinterest session for user %q could not be re-established", userID)
	}
	return rec, nil
}

// ensure is EnsureAuthenticated without locking. Callers hold the user's lock.
func (m *SessionManager) ensure(ctx context.Context, rec *model.CredentialRecord) (bool, error) {
	result := m.Probe(ctx, rec.UserID)
	if result.Valid {
		if _, err := m.markValidity(ctx, rec, true); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.logger.Info("pinterest session expired, attempting re-login", "user_id", rec.UserID)
	_, ok, err := m.login(ctx, rec)
	return ok, err
}

// login runs one provider login and persists the outcome. A failed login is
// reported through ok; err is reserved for store failures.
func (m *SessionManager) login(ctx context.Context, rec *model.CredentialRecord) (*model.CredentialRecord, bool, error) {
	loginErr := m.provider.Login(ctx, *rec)
	m.telemetry.ReloginCompleted(loginErr == nil)
	if loginErr != nil {
		m.logger.Error("pinterest login failed", "user_id", rec.UserID, "error", loginErr)
	} else {
		m.logger.Info("pinterest login succeeded", "user_id", rec.UserID)
	}

	updated, err := m.markValidity(ctx, rec, loginErr == nil)
	if err != nil {
		return nil, false, err
	}
	return updated, loginErr == nil, nil
}

func (m *SessionManager) markValidity(ctx context.Context, prev *model.CredentialRecord, valid bool) (*model.CredentialRecord, error) {
	updated, err := m.store.MarkValidity(ctx, prev.UserID, valid)
	if err != nil {
		return nil, err
	}

	from := model.SessionExpired
	if prev.SessionValid {
		from = model.SessionConnected
	}
	to := model.SessionExpired
	if valid {
		to = model.SessionConnected
	}
	if from != to {
		m.telemetry.SessionTransition(from, to)
		m.logger.Info("pinterest session state changed", "user_id", prev.UserID, "from", from, "to", to)
	}
	return updated, nil
}

func (m *SessionManager) limitError(boardID, bound string) error {
	m.logger.Warn("board feed exceeded pagination bound", "board_id", boardID, "bound", bound)
	return &model.Error{
		Kind:    model.ErrPaginationLimit,
		Op:      "board feed",
		Message: fmt.Sprintf("board %s exceeded %s", boardID, bound),
	}
}
