package report

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v80/github"
)

// MaxCommentFindings bounds the table in the pull-request comment, which
// GitHub limits to 65536 characters.
const MaxCommentFindings = 100

// IssuesService is the slice of the GitHub issues API the commenter uses.
type IssuesService interface {
	ListComments(ctx context.Context, owner, repo string, number int, opts *gh.IssueListCommentsOptions) ([]*gh.IssueComment, *gh.Response, error)
	CreateComment(ctx context.Context, owner, repo string, number int, comment *gh.IssueComment) (*gh.IssueComment, *gh.Response, error)
	EditComment(ctx context.Context, owner, repo string, commentID int64, comment *gh.IssueComment) (*gh.IssueComment, *gh.Response, error)
}

// PRCommenter keeps one sizeguard comment on a pull request up to date.
type PRCommenter struct {
	issues IssuesService
	owner  string
	repo   string
	number int
}

type authTransport struct {
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req)
}

// NewPRCommenter returns a commenter for pull request number in repository
// ("owner/name"). apiURL selects a GitHub Enterprise server; empty or the
// public API URL uses github.com.
func NewPRCommenter(token, repository string, number int, apiURL string) (*PRCommenter, error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("pr comment: repository %q is not owner/name", repository)
	}
	if number <= 0 {
		return nil, fmt.Errorf("pr comment: invalid pull request number %d", number)
	}
	var httpClient *http.Client
	if token != "" {
		httpClient = &http.Client{Transport: &authTransport{token: token}}
	}
	client := gh.NewClient(httpClient)
	if apiURL != "" && strings.TrimSuffix(apiURL, "/") != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("pr comment: %w", err)
		}
	}
	return newPRCommenter(client.Issues, owner, name, number), nil
}

func newPRCommenter(issues IssuesService, owner, repo string, number int) *PRCommenter {
	return &PRCommenter{issues: issues, owner: owner, repo: repo, number: number}
}

// Post creates the sizeguard comment, or edits the existing one.
func (c *PRCommenter) Post(ctx context.Context, run Run) error {
	var body strings.Builder
	body.WriteString(SummaryMarker + "\n")
	if err := WriteMarkdown(&body, run, MaxCommentFindings); err != nil {
		return err
	}
	comment := &gh.IssueComment{Body: gh.Ptr(body.String())}

	existing, err := c.find(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		if _, _, err := c.issues.EditComment(ctx, c.owner, c.repo, existing.GetID(), comment); err != nil {
			return fmt.Errorf("pr comment: edit %d: %w", existing.GetID(), err)
		}
		return nil
	}
	if _, _, err := c.issues.CreateComment(ctx, c.owner, c.repo, c.number, comment); err != nil {
		return fmt.Errorf("pr comment: create: %w", err)
	}
	return nil
}

func (c *PRCommenter) find(ctx context.Context) (*gh.IssueComment, error) {
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := c.issues.ListComments(ctx, c.owner, c.repo, c.number, opts)
		if err != nil {
			return nil, fmt.Errorf("pr comment: list: %w", err)
		}
		for _, cm := range comments {
			if strings.HasPrefix(cm.GetBody(), SummaryMarker) {
				return cm, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}
