package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/crypto/nacl/box"
)

const defaultGitHubAPIURL = "https://api.github.com"

type GitHubService struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

type GitHubComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

type GitHubPublicKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

type GitHubSecretRequest struct {
	EncryptedValue string `json:"encrypted_value"`
	KeyID          string `json:"key_id"`
}

func NewGitHubService(token string) *GitHubService {
	return &GitHubService{
		token:      token,
		baseURL:    defaultGitHubAPIURL,
		httpClient: &http.Client{},
	}
}

// do performs an authenticated GitHub API request and decodes the response into out when non-nil
func (g *GitHubService) do(ctx context.Context, method, url string, body, out interface{}, okStatuses ...int) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d from %s %s: %s", resp.StatusCode, method, url, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// ListComments returns the first page of issue comments for a pull request
func (g *GitHubService) ListComments(ctx context.Context, owner, repo string, pr int) ([]GitHubComment, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments?per_page=100", g.baseURL, owner, repo, pr)

	var comments []GitHubComment
	if err := g.do(ctx, http.MethodGet, url, nil, &comments, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	return comments, nil
}

// CreateComment posts a new comment on a pull request
func (g *GitHubService) CreateComment(ctx context.Context, owner, repo string, pr int, body string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", g.baseURL, owner, repo, pr)

	payload := map[string]string{"body": body}
	if err := g.do(ctx, http.MethodPost, url, payload, nil, http.StatusCreated); err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}

	return nil
}

// UpdateComment replaces the body of an existing comment
func (g *GitHubService) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/comments/%d", g.baseURL, owner, repo, commentID)

	payload := map[string]string{"body": body}
	if err := g.do(ctx, http.MethodPatch, url, payload, nil, http.StatusOK); err != nil {
		return fmt.Errorf("failed to update comment: %w", err)
	}

	return nil
}

// UpsertComment creates the comment on first use and updates it on subsequent
// runs. Comments are matched by marker, an HTML comment embedded in the body,
// so each pull request carries a single sticky preview comment.
func (g *GitHubService) UpsertComment(ctx context.Context, owner, repo string, pr int, marker, body string) error {
	comments, err := g.ListComments(ctx, owner, repo, pr)
	if err != nil {
		return err
	}

	for _, comment := range comments {
		if bytes.Contains([]byte(comment.Body), []byte(marker)) {
			return g.UpdateComment(ctx, owner, repo, comment.ID, body)
		}
	}

	return g.CreateComment(ctx, owner, repo, pr, body)
}

// GetPublicKey fetches the repository's public key for encrypting secrets
func (g *GitHubService) GetPublicKey(ctx context.Context, owner, repo string) (*GitHubPublicKey, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/secrets/public-key", g.baseURL, owner, repo)

	var publicKey GitHubPublicKey
	if err := g.do(ctx, http.MethodGet, url, nil, &publicKey, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to fetch public key: %w", err)
	}

	return &publicKey, nil
}

// encryptSecret encrypts a secret value using libsodium sealed box
func (g *GitHubService) encryptSecret(publicKeyBase64, secretValue string) (string, error) {
	publicKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return "", fmt.Errorf("failed to decode public key: %w", err)
	}

	if len(publicKeyBytes) != 32 {
		return "", fmt.Errorf("invalid public key length: expected 32, got %d", len(publicKeyBytes))
	}

	var publicKey [32]byte
	copy(publicKey[:], publicKeyBytes)

	encrypted, err := box.SealAnonymous(nil, []byte(secretValue), &publicKey, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// CreateOrUpdateSecret creates or updates a repository Actions secret
func (g *GitHubService) CreateOrUpdateSecret(ctx context.Context, owner, repo, secretName, secretValue string) error {
	publicKey, err := g.GetPublicKey(ctx, owner, repo)
	if err != nil {
		return fmt.Errorf("failed to get public key: %w", err)
	}

	encryptedValue, err := g.encryptSecret(publicKey.Key, secretValue)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	requestBody := GitHubSecretRequest{
		EncryptedValue: encryptedValue,
		KeyID:          publicKey.KeyID,
	}

	url := fmt.Sprintf("%s/repos/%s/%s/actions/secrets/%s", g.baseURL, owner, repo, secretName)
	if err := g.do(ctx, http.MethodPut, url, requestBody, nil, http.StatusCreated, http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to create/update secret: %w", err)
	}

	return nil
}
