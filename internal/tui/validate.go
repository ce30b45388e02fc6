package tui

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/matsen/paperboy/internal/embedding"
)

// ValidateEmbedService checks that the embedding service answers its
// health endpoint. The context allows cancellation when the user quits
// mid-probe.
func ValidateEmbedService(ctx context.Context, embedURL string) error {
	client, err := embedding.New(embedURL)
	if err != nil {
		return err
	}
	info, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	if info.Status != "healthy" {
		return fmt.Errorf("embedding service reports status %q", info.Status)
	}
	return nil
}

func require(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("required")
	}
	return nil
}

func requireURL(value string) error {
	if err := require(value); err != nil {
		return err
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func requireDigits(value string) error {
	if err := require(value); err != nil {
		return err
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return errors.New("must be numeric")
		}
	}
	return nil
}

func requireScore(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 10 {
		return errors.New("must be a number from 1 to 10")
	}
	return nil
}
