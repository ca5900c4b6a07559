package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const timelineBatchSize = 100

// Only event types shared by the issue and pull request timeline unions can
// be selected in both branches.
const timelineSelection = `timelineItems(last: 1) {
      nodes {
        __typename
        ... on IssueComment { author { login } createdAt }
        ... on LabeledEvent { actor { login } createdAt }
        ... on UnlabeledEvent { actor { login } createdAt }
        ... on AssignedEvent { actor { login } createdAt }
        ... on ClosedEvent { actor { login } createdAt }
        ... on ReopenedEvent { actor { login } createdAt }
        ... on RenamedTitleEvent { actor { login } createdAt }
        ... on CrossReferencedEvent { actor { login } createdAt }
      }
    }`

var timelineQuery = `query($ids: [ID!]!) {
  nodes(ids: $ids) {
    ... on Issue { id ` + timelineSelection + ` }
    ... on PullRequest { id ` + timelineSelection + ` }
  }
}`

type timelineNode struct {
	Author    *userPayload `json:"author"`
	Actor     *userPayload `json:"actor"`
	CreatedAt time.Time    `json:"createdAt"`
}

type timelineResponse struct {
	Data *struct {
		Nodes []*struct {
			ID            string `json:"id"`
			TimelineItems struct {
				Nodes []timelineNode `json:"nodes"`
			} `json:"timelineItems"`
		} `json:"nodes"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *GitHubClient) LastTimeline(ctx context.Context, nodeIDs []string) (map[string]TimelineEvent, error) {
	out := make(map[string]TimelineEvent, len(nodeIDs))
	for start := 0; start < len(nodeIDs); start += timelineBatchSize {
		end := min(start+timelineBatchSize, len(nodeIDs))
		if err := c.lastTimelineBatch(ctx, nodeIDs[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *GitHubClient) lastTimelineBatch(ctx context.Context, ids []string, out map[string]TimelineEvent) error {
	body, err := json.Marshal(map[string]any{
		"query":     timelineQuery,
		"variables": map[string]any{"ids": ids},
	})
	if err != nil {
		return fmt.Errorf("encode timeline query: %w", err)
	}

	var resp timelineResponse
	if _, err := c.do(ctx, "timeline", http.MethodPost, c.graphqlURL, body, &resp); err != nil {
		return err
	}
	if resp.Data == nil {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("timeline query: %s", strings.Join(msgs, "; "))
	}
	if len(resp.Errors) > 0 {
		// Inaccessible nodes come back as null with an error entry.
		c.logger.Debug("timeline query returned partial data", "errors", len(resp.Errors))
	}

	for _, node := range resp.Data.Nodes {
		if node == nil || node.ID == "" || len(node.TimelineItems.Nodes) == 0 {
			continue
		}
		last := node.TimelineItems.Nodes[len(node.TimelineItems.Nodes)-1]
		ev := TimelineEvent{At: last.CreatedAt.UTC()}
		switch {
		case last.Author != nil:
			ev.User = last.Author.Login
		case last.Actor != nil:
			ev.User = last.Actor.Login
		}
		if ev.User == "" || ev.At.IsZero() {
			continue
		}
		out[node.ID] = ev
	}
	return nil
}
