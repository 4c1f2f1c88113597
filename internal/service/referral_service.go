package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/viralboost/boostd/internal/backend"
	"github.com/viralboost/boostd/internal/querycache"
)

// Referral is one invited user and the bonus they earned the referrer.
type Referral struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Bonus    float64 `json:"bonus"`
	JoinedAt string  `json:"joined_at"`
}

// ReferralPage is one cached page of referrals.
type ReferralPage struct {
	Referrals  []Referral         `json:"referrals"`
	Pagination backend.Pagination `json:"pagination"`
}

// ReferralService lists the user's referrals. Referrals are created by the
// backend when an invite link is redeemed, so the service is read-only.
type ReferralService interface {
	ListReferrals(ctx context.Context, page, limit int) (*ReferralPage, error)
}

type referralServiceImpl struct {
	cache  *querycache.Coordinator
	client *backend.Client
}

// NewReferralService creates a ReferralService.
func NewReferralService(cache *querycache.Coordinator, client *backend.Client) ReferralService {
	return &referralServiceImpl{cache: cache, client: client}
}

func (s *referralServiceImpl) ListReferrals(ctx context.Context, page, limit int) (*ReferralPage, error) {
	fetch := func(fctx context.Context) (any, error) {
		raw, err := s.client.List(fctx, "/referrals", backend.ListQuery{Page: page, Limit: limit})
		if err != nil {
			return nil, err
		}
		out := &ReferralPage{Referrals: make([]Referral, 0, len(raw.Items)), Pagination: raw.Pagination}
		for _, item := range raw.Items {
			var r Referral
			if err := json.Unmarshal(item, &r); err != nil {
				return nil, fmt.Errorf("decoding referral record: %w", err)
			}
			out.Referrals = append(out.Referrals, r)
		}
		return out, nil
	}

	v, err := s.cache.Query(ctx, querycache.NewKey("referrals", page, limit), fetch, querycache.QueryOptions{})
	if err != nil {
		return nil, err
	}
	rp, ok := v.(*ReferralPage)
	if !ok {
		return nil, fmt.Errorf("unexpected cache payload %T for referrals", v)
	}
	return rp, nil
}
