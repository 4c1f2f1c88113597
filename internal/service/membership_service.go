package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/viralboost/boostd/internal/backend"
	"github.com/viralboost/boostd/internal/eventbus"
	"github.com/viralboost/boostd/internal/querycache"
)

// Membership describes the user's current plan.
type Membership struct {
	Plan        string  `json:"plan"`
	DailyTasks  int     `json:"daily_tasks"`
	RewardBonus float64 `json:"reward_bonus"`
	ExpiresAt   string  `json:"expires_at"`
}

// MembershipService exposes the current plan and upgrades.
type MembershipService interface {
	GetMembership(ctx context.Context) (*Membership, error)
	// Upgrade moves the user to a higher plan. Upgrading costs wallet
	// balance, so both the membership and the wallet go stale on success.
	Upgrade(ctx context.Context, plan string) (*Membership, error)
}

type membershipServiceImpl struct {
	cache  *querycache.Coordinator
	client *backend.Client
	events EventPublisher
	logger *slog.Logger
}

// NewMembershipService creates a MembershipService.
func NewMembershipService(cache *querycache.Coordinator, client *backend.Client, events EventPublisher, logger *slog.Logger) MembershipService {
	return &membershipServiceImpl{cache: cache, client: client, events: events, logger: logger}
}

func (s *membershipServiceImpl) GetMembership(ctx context.Context) (*Membership, error) {
	fetch := func(fctx context.Context) (any, error) {
		data, err := s.client.Mutate(fctx, http.MethodGet, "/membership", nil)
		if err != nil {
			return nil, err
		}
		var m Membership
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding membership: %w", err)
		}
		return &m, nil
	}

	v, err := s.cache.Query(ctx, querycache.NewKey("membership"), fetch, querycache.QueryOptions{})
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Membership)
	if !ok {
		return nil, fmt.Errorf("unexpected cache payload %T for membership", v)
	}
	return m, nil
}

func (s *membershipServiceImpl) Upgrade(ctx context.Context, plan string) (*Membership, error) {
	if plan == "" {
		return nil, &ValidationError{Field: "plan", Message: "is required"}
	}

	desc := querycache.Descriptor{
		Run: func(rctx context.Context, input any) (any, error) {
			data, err := s.client.Mutate(rctx, http.MethodPost, "/membership/upgrade", input)
			if err != nil {
				return nil, err
			}
			var m Membership
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("decoding membership upgrade: %w", err)
			}
			return &m, nil
		},
		OnSuccess: []querycache.Effect{
			querycache.Invalidate(querycache.NewKey("membership")),
			querycache.Invalidate(querycache.NewKey("wallet")),
		},
	}

	result, err := s.cache.Mutate(ctx, desc, map[string]string{"plan": plan})
	if err != nil {
		return nil, err
	}
	m, ok := result.(*Membership)
	if !ok {
		return nil, fmt.Errorf("unexpected mutation result %T for membership upgrade", result)
	}

	s.events.Publish(eventbus.EventMembershipUpgraded, map[string]string{"plan": m.Plan})
	return m, nil
}
