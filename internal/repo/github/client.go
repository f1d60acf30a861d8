// Package github is the read-only repo-metadata client of §2.1's
// domain stack: a thin wrapper over google/go-github that refreshes
// model.Repo rows. It has no business logic of its own — sync policy
// (what to fetch, when) lives in the caller.
//
// Grounded on the reference pack's internal/github client.go (a
// *gogh.Client wrapped with a narrow, intent-named method set over
// owner/repo pairs).
package github

import (
	"context"
	"fmt"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/relaycore/relay/internal/model"
)

// Client wraps the GitHub REST API for repo-metadata lookups.
type Client struct {
	gh *gogh.Client
}

// New creates a Client authenticated with token, or unauthenticated
// (subject to GitHub's stricter anonymous rate limit) if token is "".
func New(token string) *Client {
	c := gogh.NewClient(nil)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	return &Client{gh: c}
}

// FetchRepo retrieves metadata for "owner/name" and maps it onto a
// model.Repo row ready to be upserted via store.UpsertRepo.
func (c *Client) FetchRepo(ctx context.Context, fullName string) (*model.Repo, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	r, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("github: get repository %s: %w", fullName, err)
	}

	return &model.Repo{
		ID:            fullName,
		FullName:      r.GetFullName(),
		Owner:         owner,
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
		CloneURL:      r.GetCloneURL(),
		Description:   r.GetDescription(),
	}, nil
}

// ListOrgRepos lists every repository visible to the authenticated
// user under org, paging through the full result set.
func (c *Client) ListOrgRepos(ctx context.Context, org string) ([]*model.Repo, error) {
	var out []*model.Repo
	opt := &gogh.RepositoryListByOrgOptions{ListOptions: gogh.ListOptions{PerPage: 100}}
	for {
		repos, resp, err := c.gh.Repositories.ListByOrg(ctx, org, opt)
		if err != nil {
			return nil, fmt.Errorf("github: list repos for org %s: %w", org, err)
		}
		for _, r := range repos {
			out = append(out, &model.Repo{
				ID:            r.GetFullName(),
				FullName:      r.GetFullName(),
				Owner:         org,
				Private:       r.GetPrivate(),
				DefaultBranch: r.GetDefaultBranch(),
				CloneURL:      r.GetCloneURL(),
				Description:   r.GetDescription(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

func splitFullName(fullName string) (owner, name string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github: invalid repo format %q, expected \"owner/name\"", fullName)
	}
	return parts[0], parts[1], nil
}
