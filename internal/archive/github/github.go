// Package github archives session credentials into a GitHub repository.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/credstore"
	gh "github.com/google/go-github/v68/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// contentsAPI abstracts the repository contents endpoints we use.
// *github.RepositoriesService satisfies it.
type contentsAPI interface {
	GetContents(ctx context.Context, owner, repo, path string, opts *gh.RepositoryContentGetOptions) (*gh.RepositoryContent, []*gh.RepositoryContent, *gh.Response, error)
	CreateFile(ctx context.Context, owner, repo, path string, opts *gh.RepositoryContentFileOptions) (*gh.RepositoryContentResponse, *gh.Response, error)
	UpdateFile(ctx context.Context, owner, repo, path string, opts *gh.RepositoryContentFileOptions) (*gh.RepositoryContentResponse, *gh.Response, error)
}

// Opts configures an Archiver.
type Opts struct {
	Token     string
	Owner     string
	Repo      string
	Branch    string        // default main
	FileDelay time.Duration // pause between file uploads
	Logger    zerolog.Logger
	// For testing: inject a fake contents API instead of the real client.
	API contentsAPI
}

// Archiver writes files to sessions/<id>/<file> in one repository.
type Archiver struct {
	api       contentsAPI
	owner     string
	repo      string
	branch    string
	fileDelay time.Duration
	log       zerolog.Logger
}

// New creates an Archiver authenticated with a personal access token.
func New(ctx context.Context, opts Opts) (*Archiver, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("archive: owner and repo are required")
	}
	api := opts.API
	if api == nil {
		if opts.Token == "" {
			return nil, fmt.Errorf("archive: github token is required")
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		api = gh.NewClient(oauth2.NewClient(ctx, ts)).Repositories
	}
	branch := opts.Branch
	if branch == "" {
		branch = "main"
	}
	return &Archiver{
		api:       api,
		owner:     opts.Owner,
		repo:      opts.Repo,
		branch:    branch,
		fileDelay: opts.FileDelay,
		log:       opts.Logger,
	}, nil
}

// Locator returns the browsable URL of a session's archive folder.
func (a *Archiver) Locator(sessionID string) string {
	return fmt.Sprintf("https://github.com/%s/%s/tree/%s/%s", a.owner, a.repo, a.branch, folder(sessionID))
}

func folder(sessionID string) string {
	return path.Join("sessions", sessionID)
}

// Archive uploads every regular file in credPath, creating or updating each.
func (a *Archiver) Archive(ctx context.Context, sessionID, credPath string) (string, error) {
	names, err := credstore.Files(credPath)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}

	for i, name := range names {
		if i > 0 && a.fileDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(a.fileDelay):
			}
		}
		data, err := os.ReadFile(filepath.Join(credPath, name))
		if err != nil {
			return "", fmt.Errorf("archive: read %s: %w", name, err)
		}
		if err := a.put(ctx, sessionID, path.Join(folder(sessionID), name), data); err != nil {
			return "", err
		}
	}

	locator := a.Locator(sessionID)
	a.log.Info().Str("session_id", sessionID).Int("files", len(names)).Str("url", locator).Msg("credentials archived")
	return locator, nil
}

// put creates the file, or updates it when a previous version exists.
func (a *Archiver) put(ctx context.Context, sessionID, repoPath string, data []byte) error {
	sha, err := a.existingSHA(ctx, repoPath)
	if err != nil {
		return err
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr("Update " + sessionID),
		Content: data,
		Branch:  gh.Ptr(a.branch),
	}
	if sha == "" {
		_, _, err = a.api.CreateFile(ctx, a.owner, a.repo, repoPath, opts)
	} else {
		opts.SHA = gh.Ptr(sha)
		_, _, err = a.api.UpdateFile(ctx, a.owner, a.repo, repoPath, opts)
	}
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", repoPath, err)
	}
	return nil
}

// existingSHA returns the blob SHA of repoPath, or "" when it does not exist.
func (a *Archiver) existingSHA(ctx context.Context, repoPath string) (string, error) {
	file, _, resp, err := a.api.GetContents(ctx, a.owner, a.repo, repoPath, &gh.RepositoryContentGetOptions{Ref: a.branch})
	if err != nil {
		if isNotFound(resp, err) {
			return "", nil
		}
		return "", fmt.Errorf("archive: lookup %s: %w", repoPath, err)
	}
	if file == nil {
		return "", fmt.Errorf("archive: %s is a directory", repoPath)
	}
	return file.GetSHA(), nil
}

func isNotFound(resp *gh.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var er *gh.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}
