package destclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/crypto/nacl/box"

	"github.com/forgemove/ghmigrate/pkg/forgeerr"
)

// publicKey is the repository or environment public key used to seal secrets
// before upload. The forge only ever receives the sealed box.
type publicKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

// sealSecret encrypts a plaintext secret with the forge's public key using
// an anonymous NaCl box, the scheme the Actions secrets API requires.
func sealSecret(plaintext string, pk publicKey) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(pk.Key)
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.CategoryValidation, "decoding public key", err)
	}
	if len(decoded) != 32 {
		return "", forgeerr.New(forgeerr.CategoryValidation,
			fmt.Sprintf("public key must be 32 bytes, got %d", len(decoded)))
	}
	var recipient [32]byte
	copy(recipient[:], decoded)

	sealed, err := box.SealAnonymous(nil, []byte(plaintext), &recipient, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("sealing secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// SetRepoSecret seals and uploads a repository-level Actions secret.
func (c *Client) SetRepoSecret(ctx context.Context, owner, repo, name, value string) error {
	var pk publicKey
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/actions/secrets/public-key", owner, repo), nil, &pk)
	if err != nil {
		return err
	}
	sealed, err := sealSecret(value, pk)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut,
		fmt.Sprintf("repos/%s/%s/actions/secrets/%s", owner, repo, url.PathEscape(name)),
		map[string]string{"encrypted_value": sealed, "key_id": pk.KeyID}, nil)
	return err
}

// SetEnvironmentSecret seals and uploads an environment-scoped secret.
func (c *Client) SetEnvironmentSecret(ctx context.Context, owner, repo, environment, name, value string) error {
	var pk publicKey
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/environments/%s/secrets/public-key",
			owner, repo, url.PathEscape(environment)), nil, &pk)
	if err != nil {
		return err
	}
	sealed, err := sealSecret(value, pk)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut,
		fmt.Sprintf("repos/%s/%s/environments/%s/secrets/%s",
			owner, repo, url.PathEscape(environment), url.PathEscape(name)),
		map[string]string{"encrypted_value": sealed, "key_id": pk.KeyID}, nil)
	return err
}

// DeleteRepoSecret removes a repository secret. Used only by rollback.
func (c *Client) DeleteRepoSecret(ctx context.Context, owner, repo, name string) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("repos/%s/%s/actions/secrets/%s", owner, repo, url.PathEscape(name)), nil, nil)
	return err
}
