package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DraftPRRequest describes a pull request to open
type DraftPRRequest struct {
	Repo  string
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// DraftPR is the created pull request
type DraftPR struct {
	Number int
	URL    string
	Draft  bool
}

// PullRequestCreator opens pull requests. The real GitHub client with its
// token handling lives behind this boundary.
type PullRequestCreator interface {
	CreateDraft(ctx context.Context, req DraftPRRequest) (DraftPR, error)
}

// DryRunCreator fabricates PR records locally without touching any remote.
// Used for development and tests; nothing outside the process changes.
type DryRunCreator struct {
	mu   sync.Mutex
	next int
}

// CreateDraft implements PullRequestCreator
func (c *DryRunCreator) CreateDraft(_ context.Context, req DraftPRRequest) (DraftPR, error) {
	if req.Head == req.Base {
		return DraftPR{}, fmt.Errorf("head and base branch are the same: %s", req.Head)
	}

	c.mu.Lock()
	c.next++
	number := c.next
	c.mu.Unlock()

	return DraftPR{
		Number: number,
		URL:    fmt.Sprintf("https://github.com/%s/pull/%d", req.Repo, number),
		Draft:  req.Draft,
	}, nil
}

// createDraftPRHandler builds the github.pr.create_draft handler
func createDraftPRHandler(creator PullRequestCreator, now func() time.Time) func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		req := DraftPRRequest{
			Repo:  stringField(input, "repo"),
			Title: stringField(input, "title"),
			Body:  stringField(input, "body"),
			Head:  stringField(input, "head"),
			Base:  stringField(input, "base"),
		}
		if req.Base == "" {
			req.Base = "main"
		}
		if draft, ok := input["draft"].(bool); ok {
			req.Draft = draft
		}

		pr, err := creator.CreateDraft(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to create draft PR: %w", err)
		}

		return map[string]interface{}{
			"number": pr.Number,
			"url":    pr.URL,
			"draft":  pr.Draft,
			"meta": map[string]interface{}{
				"source":     "github",
				"created_at": now().UTC().Format(time.RFC3339),
			},
		}, nil
	}
}

func stringField(input map[string]interface{}, field string) string {
	s, _ := input[field].(string)
	return s
}
