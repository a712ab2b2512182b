// Package identity manages the binding of usernames to owner addresses.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/befkir-pay/payment_layer/internal/app/domain/profile"
	"github.com/befkir-pay/payment_layer/internal/app/events"
	"github.com/befkir-pay/payment_layer/internal/app/keys"
	"github.com/befkir-pay/payment_layer/internal/app/metrics"
	"github.com/befkir-pay/payment_layer/internal/app/storage"
	"github.com/befkir-pay/payment_layer/internal/app/validate"
	"github.com/befkir-pay/payment_layer/pkg/logger"
)

// ErrUsernameTooLong is returned when a username exceeds the program limit.
var ErrUsernameTooLong = errors.New("username too long")

// Service manages user profile records.
type Service struct {
	store    storage.ProfileStore
	notifier events.Notifier
	log      *logger.Logger
}

// New constructs an identity service.
func New(store storage.ProfileStore, notifier events.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	if notifier == nil {
		notifier = events.NoopNotifier{}
	}
	return &Service{store: store, notifier: notifier, log: log}
}

// Register binds username to owner. The first call creates the profile;
// later calls overwrite the username in place, keeping no history.
func (s *Service) Register(ctx context.Context, owner, username string) (profile.Profile, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return profile.Profile{}, fmt.Errorf("%w: owner", validate.ErrRequired)
	}
	if validate.CodeUnitLen(username) > validate.MaxUsernameLen {
		metrics.OperationRejected(string(events.UserRegistered), "username_too_long")
		return profile.Profile{}, ErrUsernameTooLong
	}

	p, err := s.store.UpsertProfile(ctx, profile.Profile{
		Key:      keys.Profile(owner),
		Owner:    owner,
		Username: username,
	})
	if err != nil {
		return profile.Profile{}, err
	}

	s.notifier.Log(events.Event{
		Type:      events.UserRegistered,
		Actor:     owner,
		RecordKey: p.Key,
		Metadata:  map[string]string{"username": username},
	})
	metrics.OperationAccepted(string(events.UserRegistered))
	s.log.WithField("owner", owner).WithField("username", username).Info("username registered")
	return p, nil
}

// Get returns the profile for owner.
func (s *Service) Get(ctx context.Context, owner string) (profile.Profile, error) {
	return s.store.GetProfile(ctx, keys.Profile(owner))
}
