package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
)

// TagImage applies an additional reference to a local image.
func (c *Client) TagImage(ctx context.Context, source, target string) error {
	if c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if err := c.inner.ImageTag(ctx, source, target); err != nil {
		return fmt.Errorf("docker image tag: %w", err)
	}
	return nil
}

// PushImage uploads the tagged image to its registry. Username and
// password may be empty for registries that accept anonymous pushes.
func (c *Client) PushImage(ctx context.Context, tag, username, password string, onOutput BuildOutputCallback) error {
	if c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}

	auth, err := encodeAuth(username, password)
	if err != nil {
		return err
	}
	resp, err := c.inner.ImagePush(ctx, tag, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return fmt.Errorf("docker image push: %w", err)
	}
	defer resp.Close()
	return drainStream(resp, "docker image push", onOutput)
}

func encodeAuth(username, password string) (string, error) {
	cfg := registry.AuthConfig{Username: username, Password: password}
	body, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode registry auth: %w", err)
	}
	return base64.URLEncoding.EncodeToString(body), nil
}
