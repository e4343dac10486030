// Package credentials looks up the session token attached to remote calls.
// Tokens are read on every call and never cached.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"taskingbot-bridge/internal/config"
)

// ErrNoToken means no source produced a token. Callers skip their cycle.
var ErrNoToken = errors.New("no session token")

// Source yields a token or ErrNoToken.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Env reads the token from an environment variable.
type Env string

func (e Env) Token(context.Context) (string, error) {
	if e == "" {
		return "", ErrNoToken
	}
	if v := strings.TrimSpace(os.Getenv(string(e))); v != "" {
		return v, nil
	}
	return "", ErrNoToken
}

// File reads the token from the first line of a file.
type File string

func (f File) Token(context.Context) (string, error) {
	if f == "" {
		return "", ErrNoToken
	}
	raw, err := os.ReadFile(string(f))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	if v := strings.TrimSpace(line); v != "" {
		return v, nil
	}
	return "", ErrNoToken
}

// Dotenv reads Key from a .env file without touching the process
// environment.
type Dotenv struct {
	Path string
	Key  string
}

func (d Dotenv) Token(context.Context) (string, error) {
	if d.Path == "" || d.Key == "" {
		return "", ErrNoToken
	}
	vals, err := godotenv.Read(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read dotenv %s: %w", d.Path, err)
	}
	if v := strings.TrimSpace(vals[d.Key]); v != "" {
		return v, nil
	}
	return "", ErrNoToken
}

// Static always yields the same token. An empty token means none.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Chain asks each source in order and returns the first token found. Errors
// other than ErrNoToken stop the search.
type Chain []Source

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, s := range c {
		tok, err := s.Token(ctx)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}

// FromConfig builds the lookup order env, file, dotenv.
func FromConfig(cfg config.AuthConfig) Chain {
	chain := Chain{}
	if cfg.TokenEnv != "" {
		chain = append(chain, Env(cfg.TokenEnv))
	}
	if cfg.TokenFile != "" {
		chain = append(chain, File(cfg.TokenFile))
	}
	if cfg.DotenvPath != "" {
		key := cfg.DotenvKey
		if key == "" {
			key = cfg.TokenEnv
		}
		chain = append(chain, Dotenv{Path: cfg.DotenvPath, Key: key})
	}
	return chain
}
