package remote

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/odvcencio/issuestream/internal/models"
)

type userPayload struct {
	Login string `json:"login"`
}

type issuePayload struct {
	ID            int64         `json:"id"`
	NodeID        string        `json:"node_id"`
	Number        int           `json:"number"`
	Title         string        `json:"title"`
	State         string        `json:"state"`
	Draft         bool          `json:"draft"`
	HTMLURL       string        `json:"html_url"`
	RepositoryURL string        `json:"repository_url"`
	User          *userPayload  `json:"user"`
	Assignees     []userPayload `json:"assignees"`
	Labels        []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Milestone *struct {
		Title string     `json:"title"`
		DueOn *time.Time `json:"due_on"`
	} `json:"milestone"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at"`
	PullRequest *struct {
		MergedAt *time.Time `json:"merged_at"`
	} `json:"pull_request"`
}

type searchPayload struct {
	TotalCount        int               `json:"total_count"`
	IncompleteResults bool              `json:"incomplete_results"`
	Items             []json.RawMessage `json:"items"`
}

// decodeItem converts one issue payload into a cache row. The payload is
// kept verbatim in Raw.
func decodeItem(raw json.RawMessage) (*models.Item, error) {
	var p issuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode issue: %w", err)
	}
	if p.ID == 0 || p.NodeID == "" {
		return nil, fmt.Errorf("decode issue: missing id")
	}

	item := &models.Item{
		ID:        p.ID,
		NodeID:    p.NodeID,
		Type:      models.ItemTypeIssue,
		Number:    p.Number,
		Title:     p.Title,
		State:     strings.ToLower(p.State),
		Draft:     p.Draft,
		Repo:      repoFromURLs(p.RepositoryURL, p.HTMLURL),
		HTMLURL:   p.HTMLURL,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
		ClosedAt:  utcPtr(p.ClosedAt),
		Raw:       append(json.RawMessage(nil), raw...),
	}
	if p.User != nil {
		item.Author = p.User.Login
	}
	for _, a := range p.Assignees {
		item.Assignees = append(item.Assignees, a.Login)
	}
	for _, l := range p.Labels {
		item.Labels = append(item.Labels, l.Name)
	}
	if p.Milestone != nil {
		item.Milestone = p.Milestone.Title
		item.MilestoneDueOn = utcPtr(p.Milestone.DueOn)
	}
	if p.PullRequest != nil {
		item.Type = models.ItemTypePullRequest
		item.Merged = p.PullRequest.MergedAt != nil
	}
	return item, nil
}

func decodeItems(raws []json.RawMessage) ([]models.Item, error) {
	items := make([]models.Item, 0, len(raws))
	for _, raw := range raws {
		item, err := decodeItem(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// repoFromURLs extracts "org/name" from repository_url
// (https://api.github.com/repos/org/name), falling back to html_url.
func repoFromURLs(repositoryURL, htmlURL string) string {
	if i := strings.Index(repositoryURL, "/repos/"); i >= 0 {
		return strings.Trim(repositoryURL[i+len("/repos/"):], "/")
	}
	u, err := url.Parse(htmlURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "/" + parts[1]
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
