// ABOUTME: Two-stage tool discovery ranker over the registry's cached catalogs
// ABOUTME: Shortlists services, then ranks tools; bounded by caller authorization

package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/auth"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

// Finder errors
var (
	// ErrMissingInput is returned when neither a query nor tags are given.
	ErrMissingInput = errors.New("either a query or tags must be provided")
)

// Default result bounds.
const (
	DefaultTopKServices = 3
	DefaultTopNTools    = 1
)

// Authorizer answers whether a principal may perform an operation on a
// target. Satisfied by *auth.Evaluator.
type Authorizer interface {
	Evaluate(p *auth.Principal, op auth.Operation, servicePath, tool string) auth.Decision
}

// ServiceSummary is the slim service view attached to a match.
type ServiceSummary struct {
	Path        string `json:"path"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
}

// Match is one ranked discovery result.
type Match struct {
	Service ServiceSummary       `json:"service"`
	Tool    store.ToolDescriptor `json:"tool"`
	Score   float64              `json:"score"`
}

// Query carries the discovery inputs.
type Query struct {
	Text         string   // natural-language query, optional
	Tags         []string // explicit tag set, optional
	TopKServices int      // service shortlist size, default 3
	TopNTools    int      // overall tool result bound, default 1
}

// Finder answers "which tools best match this intent" against the
// registry's cached catalogs. Scoring is read-only; catalog refresh is
// a separate explicit operation.
type Finder struct {
	store  store.Store
	authz  Authorizer
	scorer Scorer
	logger *slog.Logger
}

// NewFinder creates a Finder. A nil scorer defaults to KeywordScorer.
func NewFinder(st store.Store, authz Authorizer, scorer Scorer) *Finder {
	if scorer == nil {
		scorer = KeywordScorer{}
	}
	return &Finder{
		store:  st,
		authz:  authz,
		scorer: scorer,
		logger: slog.Default().With("component", "discovery"),
	}
}

// scoredService pairs a record with its stage-one score.
type scoredService struct {
	record *store.ServiceRecord
	score  float64
}

// FindTools runs the two-stage ranking. Only services and tools the
// principal is authorized to execute are eligible; unauthorized matches
// are silently excluded since discovery is advisory.
func (f *Finder) FindTools(ctx context.Context, principal *auth.Principal, q Query) ([]Match, error) {
	if q.Text == "" && len(q.Tags) == 0 {
		return nil, ErrMissingInput
	}
	if q.TopKServices <= 0 {
		q.TopKServices = DefaultTopKServices
	}
	if q.TopNTools <= 0 {
		q.TopNTools = DefaultTopNTools
	}

	services, err := f.store.List(ctx, store.Filter{EnabledOnly: true})
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}

	// Stage one: shortlist services by tag overlap and text similarity.
	var shortlist []scoredService
	for _, svc := range services {
		if !f.authz.Evaluate(principal, auth.OperationExecute, svc.Path, "").Allowed {
			continue
		}
		score := f.serviceScore(svc, q)
		if score <= 0 {
			continue
		}
		shortlist = append(shortlist, scoredService{record: svc, score: score})
	}

	sort.Slice(shortlist, func(i, j int) bool {
		if shortlist[i].score != shortlist[j].score {
			return shortlist[i].score > shortlist[j].score
		}
		if shortlist[i].record.StarRating != shortlist[j].record.StarRating {
			return shortlist[i].record.StarRating > shortlist[j].record.StarRating
		}
		return shortlist[i].record.Path < shortlist[j].record.Path
	})
	if len(shortlist) > q.TopKServices {
		shortlist = shortlist[:q.TopKServices]
	}

	// Stage two: rank tools across the shortlisted catalogs.
	var matches []Match
	for _, entry := range shortlist {
		svc := entry.record
		for _, tool := range svc.ToolCatalog {
			if !f.authz.Evaluate(principal, auth.OperationExecute, svc.Path, tool.Name).Allowed {
				continue
			}
			score := f.toolScore(svc, tool, q)
			if score <= 0 {
				continue
			}
			matches = append(matches, Match{
				Service: ServiceSummary{
					Path:        svc.Path,
					DisplayName: svc.DisplayName,
					Description: svc.Description,
				},
				Tool:  tool,
				Score: score,
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Service.Path != matches[j].Service.Path {
			return matches[i].Service.Path < matches[j].Service.Path
		}
		return matches[i].Tool.Name < matches[j].Tool.Name
	})
	if len(matches) > q.TopNTools {
		matches = matches[:q.TopNTools]
	}

	f.logger.Debug("discovery ranked",
		"query", q.Text,
		"tags", strings.Join(q.Tags, ","),
		"shortlisted", len(shortlist),
		"matches", len(matches),
	)
	return matches, nil
}

// serviceScore combines tag overlap with text similarity against the
// service's description, tags, and display name.
func (f *Finder) serviceScore(svc *store.ServiceRecord, q Query) float64 {
	var tagScore, textScore float64
	if len(q.Tags) > 0 {
		tagScore = tagOverlap(q.Tags, svc.Tags)
	}
	if q.Text != "" {
		candidate := svc.DisplayName + " " + svc.Description + " " + strings.Join(svc.Tags, " ")
		textScore = f.scorer.Score(q.Text, candidate)
	}

	switch {
	case len(q.Tags) > 0 && q.Text != "":
		return (tagScore + textScore) / 2
	case len(q.Tags) > 0:
		return tagScore
	default:
		return textScore
	}
}

// toolScore rates one tool. Tools without their own tags inherit the
// owning service's tags for tag matching.
func (f *Finder) toolScore(svc *store.ServiceRecord, tool store.ToolDescriptor, q Query) float64 {
	var tagScore, textScore float64
	if len(q.Tags) > 0 {
		tags := tool.Tags
		if len(tags) == 0 {
			tags = svc.Tags
		}
		tagScore = tagOverlap(q.Tags, tags)
	}
	if q.Text != "" {
		textScore = f.scorer.Score(q.Text, tool.Name+" "+tool.Description)
	}

	switch {
	case len(q.Tags) > 0 && q.Text != "":
		return (tagScore + textScore) / 2
	case len(q.Tags) > 0:
		return tagScore
	default:
		return textScore
	}
}
