package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/524D/compareMS2/internal/models"
)

// CreateSession inserts a new session record.
func (c *Client) CreateSession(ctx context.Context, rec models.SessionRecord) error {
	id, err := rec.SessionID()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	samples := rec.Samples
	if samples == nil {
		samples = []string{}
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("session", $id) CONTENT {
			kind: $kind,
			status: $status,
			options: $options,
			samples: $samples,
			total: $total,
			progress: $progress,
			started_at: $started_at
		}
	`, map[string]any{
		"id":         id,
		"kind":       rec.Kind,
		"status":     rec.Status,
		"options":    rec.Options,
		"samples":    samples,
		"total":      rec.Total,
		"progress":   rec.Progress,
		"started_at": rec.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", wrapQueryError(err))
	}
	return nil
}

// GetSession retrieves a session by ID.
// Returns nil if not found.
func (c *Client) GetSession(ctx context.Context, id string) (*models.SessionRecord, error) {
	results, err := surrealdb.Query[[]models.SessionRecord](ctx, c.db, `
		SELECT * FROM type::record("session", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ListSessions returns the most recent sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]models.SessionRecord](ctx, c.db, `
		SELECT * FROM session ORDER BY started_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.SessionRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// updateSession applies a SET clause to one session and fails with
// ErrNotFound when no record was updated. Transaction conflicts are retried.
func (c *Client) updateSession(ctx context.Context, op, set string, vars map[string]any) error {
	var (
		results *[]surrealdb.QueryResult[[]models.SessionRecord]
		err     error
	)
	for attempt := 1; ; attempt++ {
		results, err = surrealdb.Query[[]models.SessionRecord](ctx, c.db,
			`UPDATE type::record("session", $id) SET `+set, vars)
		err = wrapQueryError(err)
		if err == nil || !retryable(err) || attempt == updateAttempts || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("%s: %w: %v", op, ErrNotFound, vars["id"])
	}
	return nil
}

// UpdateSessionProgress stores the number of finished comparisons.
func (c *Client) UpdateSessionProgress(ctx context.Context, id string, progress, total int) error {
	return c.updateSession(ctx, "update session progress",
		`progress = $progress, total = $total`,
		map[string]any{"id": id, "progress": progress, "total": total})
}

// UpdateSessionStatus sets the session status.
func (c *Client) UpdateSessionStatus(ctx context.Context, id, status string) error {
	return c.updateSession(ctx, "update session status",
		`status = $status`,
		map[string]any{"id": id, "status": status})
}

// UpdateSessionSamples stores the sample order of a tree session.
func (c *Client) UpdateSessionSamples(ctx context.Context, id string, samples []string) error {
	return c.updateSession(ctx, "update session samples",
		`samples = $samples`,
		map[string]any{"id": id, "samples": samples})
}

// CompleteSession marks a session completed with its final tree. An empty
// newick leaves the field unset.
func (c *Client) CompleteSession(ctx context.Context, id, newick string) error {
	vars := map[string]any{"id": id, "status": "completed", "newick": nil}
	if newick != "" {
		vars["newick"] = newick
	}
	return c.updateSession(ctx, "complete session",
		`status = $status, newick = $newick, completed_at = time::now()`,
		vars)
}

// FailSession marks a session failed.
func (c *Client) FailSession(ctx context.Context, id, errMsg string) error {
	return c.updateSession(ctx, "fail session",
		`status = $status, error = $error, completed_at = time::now()`,
		map[string]any{"id": id, "status": "failed", "error": errMsg})
}

// GetIncompleteSessions returns sessions that were pending or running when
// the process exited, oldest first.
func (c *Client) GetIncompleteSessions(ctx context.Context) ([]models.SessionRecord, error) {
	results, err := surrealdb.Query[[]models.SessionRecord](ctx, c.db, `
		SELECT * FROM session WHERE status IN ["pending", "running"] ORDER BY started_at ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("get incomplete sessions: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.SessionRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// DeleteSession deletes a session record. Deleting a missing session is not an error.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("session", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
