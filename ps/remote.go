package ps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/go-git/go-git/v6/plumbing/transport/ssh"
)

// AuthType defines the type of authentication
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeToken AuthType = "token"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeBasic AuthType = "basic"
)

// RemoteAuth holds authentication configuration for mirror operations
type RemoteAuth struct {
	Type       AuthType
	Token      string // For token auth
	KeyPath    string // For SSH key auth
	Passphrase string // For SSH key with passphrase
	Username   string // For basic auth
	Password   string // For basic auth
}

// Remote represents a Git remote the store mirrors to
type Remote struct {
	Name string
	URLs []string
}

// getAuthMethod converts RemoteAuth to go-git's AuthMethod
func (auth *RemoteAuth) getAuthMethod() (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}

	switch auth.Type {
	case AuthTypeNone, "":
		return nil, nil

	case AuthTypeToken:
		// Hosted Git servers accept a token as the password of any user
		return &http.BasicAuth{
			Username: "x-access-token",
			Password: auth.Token,
		}, nil

	case AuthTypeSSH:
		keyPath := auth.KeyPath
		if keyPath == "" {
			home, _ := os.UserHomeDir()
			keyPath = filepath.Join(home, ".ssh", "id_rsa")
		}
		return ssh.NewPublicKeysFromFile("git", keyPath, auth.Passphrase)

	case AuthTypeBasic:
		return &http.BasicAuth{
			Username: auth.Username,
			Password: auth.Password,
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth type: %s", auth.Type)
	}
}

// branchRefSpec maps every branch under prefix onto the same name remotely
func branchRefSpec(prefix string) config.RefSpec {
	return config.RefSpec(fmt.Sprintf("refs/heads/%s*:refs/heads/%s*", prefix, prefix))
}

// AddRemote adds a named remote. Adding the same name and URL again is a
// no-op; a different URL for an existing name is an error.
func (p *GitStore) AddRemote(ctx context.Context, name, url string) error {
	if err := p.ensureInitialized(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.repo.CreateRemote(&config.RemoteConfig{
		Name: name,
		URLs: []string{url},
	})
	if errors.Is(err, git.ErrRemoteExists) {
		existing, rerr := p.repo.Remote(name)
		if rerr == nil && len(existing.Config().URLs) > 0 && existing.Config().URLs[0] == url {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to add remote '%s': %w", name, err)
	}
	return nil
}

// ListRemotes returns all configured remotes
func (p *GitStore) ListRemotes(ctx context.Context) ([]Remote, error) {
	if err := p.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	remotes, err := p.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("failed to list remotes: %w", err)
	}

	result := make([]Remote, len(remotes))
	for i, r := range remotes {
		cfg := r.Config()
		result[i] = Remote{
			Name: cfg.Name,
			URLs: cfg.URLs,
		}
	}
	return result, nil
}

// RemoveRemote removes a remote from the repository
func (p *GitStore) RemoveRemote(ctx context.Context, name string) error {
	if err := p.ensureInitialized(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.repo.DeleteRemote(name); err != nil {
		return fmt.Errorf("failed to remove remote '%s': %w", name, err)
	}
	return nil
}

// Push mirrors every branch starting with prefix to the remote. Branches
// that diverged remotely are rejected rather than overwritten.
func (p *GitStore) Push(ctx context.Context, remoteName, prefix string, auth *RemoteAuth) error {
	if err := p.ensureInitialized(ctx); err != nil {
		return err
	}

	if remoteName == "" {
		remoteName = "origin"
	}

	authMethod, err := auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	err = p.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{branchRefSpec(prefix)},
		Auth:       authMethod,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return p.fail("push", prefix+"*", "", fmt.Errorf("failed to push to '%s': %w", remoteName, err))
	}

	p.logger.Info().Str("remote", remoteName).Str("prefix", prefix).Msg("pushed branches")
	return nil
}

// Fetch copies branches starting with prefix from the remote. A local
// branch that diverged from the remote one is left as it is and the fetch
// fails.
func (p *GitStore) Fetch(ctx context.Context, remoteName, prefix string, auth *RemoteAuth) error {
	if err := p.ensureInitialized(ctx); err != nil {
		return err
	}

	if remoteName == "" {
		remoteName = "origin"
	}

	authMethod, err := auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{branchRefSpec(prefix)},
		Auth:       authMethod,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return p.fail("fetch", prefix+"*", "", fmt.Errorf("failed to fetch from '%s': %w", remoteName, err))
	}

	p.logger.Info().Str("remote", remoteName).Str("prefix", prefix).Msg("fetched branches")
	return nil
}
