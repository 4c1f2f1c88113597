package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/viralboost/boostd/internal/backend"
	"github.com/viralboost/boostd/internal/eventbus"
	"github.com/viralboost/boostd/internal/querycache"
)

// Complaint is one support ticket.
type Complaint struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// ComplaintPage is one cached page of complaints.
type ComplaintPage struct {
	Complaints []Complaint        `json:"complaints"`
	Pagination backend.Pagination `json:"pagination"`
}

// ComplaintService lists and files support tickets.
type ComplaintService interface {
	ListComplaints(ctx context.Context, page, limit int) (*ComplaintPage, error)
	SubmitComplaint(ctx context.Context, subject, body string) (*Complaint, error)
}

type complaintServiceImpl struct {
	cache  *querycache.Coordinator
	client *backend.Client
	events EventPublisher
}

// NewComplaintService creates a ComplaintService.
func NewComplaintService(cache *querycache.Coordinator, client *backend.Client, events EventPublisher) ComplaintService {
	return &complaintServiceImpl{cache: cache, client: client, events: events}
}

func (s *complaintServiceImpl) ListComplaints(ctx context.Context, page, limit int) (*ComplaintPage, error) {
	fetch := func(fctx context.Context) (any, error) {
		raw, err := s.client.List(fctx, "/complaints", backend.ListQuery{Page: page, Limit: limit})
		if err != nil {
			return nil, err
		}
		out := &ComplaintPage{Complaints: make([]Complaint, 0, len(raw.Items)), Pagination: raw.Pagination}
		for _, item := range raw.Items {
			var c Complaint
			if err := json.Unmarshal(item, &c); err != nil {
				return nil, fmt.Errorf("decoding complaint record: %w", err)
			}
			out.Complaints = append(out.Complaints, c)
		}
		return out, nil
	}

	v, err := s.cache.Query(ctx, querycache.NewKey("complaints", page, limit), fetch, querycache.QueryOptions{})
	if err != nil {
		return nil, err
	}
	cp, ok := v.(*ComplaintPage)
	if !ok {
		return nil, fmt.Errorf("unexpected cache payload %T for complaints", v)
	}
	return cp, nil
}

func (s *complaintServiceImpl) SubmitComplaint(ctx context.Context, subject, body string) (*Complaint, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, &ValidationError{Field: "subject", Message: "is required"}
	}
	if strings.TrimSpace(body) == "" {
		return nil, &ValidationError{Field: "body", Message: "is required"}
	}

	desc := querycache.Descriptor{
		Run: func(rctx context.Context, input any) (any, error) {
			data, err := s.client.Mutate(rctx, http.MethodPost, "/complaints", input)
			if err != nil {
				return nil, err
			}
			var c Complaint
			if err := json.Unmarshal(data, &c); err != nil {
				return nil, fmt.Errorf("decoding complaint: %w", err)
			}
			return &c, nil
		},
		OnSuccess: []querycache.Effect{
			querycache.Invalidate(querycache.NewKey("complaints")),
		},
	}

	result, err := s.cache.Mutate(ctx, desc, map[string]string{"subject": subject, "body": body})
	if err != nil {
		return nil, err
	}
	c, ok := result.(*Complaint)
	if !ok {
		return nil, fmt.Errorf("unexpected mutation result %T for complaint", result)
	}

	s.events.Publish(eventbus.EventComplaintSubmitted, map[string]string{"complaint_id": c.ID})
	return c, nil
}
