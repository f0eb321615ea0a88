package services

import (
	"context"
	"errors"
	"sync"

	"github.com/kamikazebr/ovpn-sync/internal/log"
	"github.com/kamikazebr/ovpn-sync/internal/server/events"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
	"github.com/rs/zerolog"
)

// PassRunner is the scheduler entry point used by the listener.
type PassRunner interface {
	RunNow(ctx context.Context, opts RunOptions) (*models.PassRecord, error)
}

// UserSyncListener turns user-management events into single-user passes.
type UserSyncListener struct {
	broker *events.Broker
	runner PassRunner
	logger zerolog.Logger

	sub  events.Subscriber
	done chan struct{}
	once sync.Once
}

func NewUserSyncListener(broker *events.Broker, runner PassRunner) *UserSyncListener {
	return &UserSyncListener{
		broker: broker,
		runner: runner,
		logger: log.WithComponent("user-sync-listener"),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the broker and handles events until ctx is done or
// Stop is called.
func (l *UserSyncListener) Start(ctx context.Context) {
	l.sub = l.broker.Subscribe()
	go l.run(ctx, l.sub)
}

// Stop unsubscribes and waits for the handler loop to exit.
func (l *UserSyncListener) Stop() {
	l.once.Do(func() {
		if l.sub != nil {
			l.broker.Unsubscribe(l.sub)
			<-l.done
		}
	})
}

func (l *UserSyncListener) run(ctx context.Context, sub events.Subscriber) {
	defer close(l.done)
	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			l.handle(ctx, event)
		case <-ctx.Done():
			return
		}
	}
}

func (l *UserSyncListener) handle(ctx context.Context, event *events.Event) {
	switch event.Type {
	case events.EventUserVerified, events.EventUserUpdated, events.EventUserDeleted:
	default:
		return
	}

	userID, err := event.UserID()
	if err != nil {
		l.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Ignoring event without a valid user id")
		return
	}

	logger := l.logger.With().Str("event", string(event.Type)).Str("user_id", userID.String()).Logger()

	// Deleted users become ineligible, so orphan removal is what revokes them
	rec, err := l.runner.RunNow(ctx, RunOptions{
		UserID:         &userID,
		DeleteOrphaned: true,
		Trigger:        models.TriggerEvent,
	})
	switch {
	case errors.Is(err, ErrSyncInProgress):
		logger.Info().Msg("Sync already running, event will be reconciled by the next pass")
	case err != nil:
		logger.Error().Err(err).Msg("Event-triggered sync failed")
	default:
		logger.Info().Str("outcome", string(rec.Outcome)).Msg("Event-triggered sync finished")
	}
}
