package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"taskingbot-bridge/internal/config"
)

type failingSource struct{}

func (failingSource) Token(context.Context) (string, error) {
	return "", errors.New("keychain locked")
}

func TestEnv(t *testing.T) {
	t.Setenv("BRIDGE_TEST_TOKEN", "  tok-env  ")
	tok, err := Env("BRIDGE_TEST_TOKEN").Token(context.Background())
	if err != nil || tok != "tok-env" {
		t.Errorf("expected tok-env, got %q (%v)", tok, err)
	}
	if _, err := Env("BRIDGE_TEST_TOKEN_UNSET").Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("tok-file\nignored\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tok, err := File(path).Token(context.Background())
	if err != nil || tok != "tok-file" {
		t.Errorf("expected tok-file, got %q (%v)", tok, err)
	}
	if _, err := File(filepath.Join(dir, "missing")).Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken for missing file, got %v", err)
	}
}

func TestDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("OTHER=x\nTASKINGBOT_TOKEN=tok-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tok, err := Dotenv{Path: path, Key: "TASKINGBOT_TOKEN"}.Token(context.Background())
	if err != nil || tok != "tok-dotenv" {
		t.Errorf("expected tok-dotenv, got %q (%v)", tok, err)
	}
	if _, err := (Dotenv{Path: path, Key: "MISSING"}).Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken for missing key, got %v", err)
	}
	if _, err := (Dotenv{Path: filepath.Join(dir, "nope"), Key: "K"}).Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken for missing file, got %v", err)
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	t.Run("first token wins", func(t *testing.T) {
		tok, err := Chain{Static(""), Static("b"), Static("c")}.Token(ctx)
		if err != nil || tok != "b" {
			t.Errorf("expected b, got %q (%v)", tok, err)
		}
	})
	t.Run("empty chain fails closed", func(t *testing.T) {
		if _, err := (Chain{}).Token(ctx); !errors.Is(err, ErrNoToken) {
			t.Errorf("expected ErrNoToken, got %v", err)
		}
	})
	t.Run("hard error stops search", func(t *testing.T) {
		_, err := Chain{failingSource{}, Static("late")}.Token(ctx)
		if err == nil || errors.Is(err, ErrNoToken) {
			t.Errorf("expected source error, got %v", err)
		}
	})
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BRIDGE_CHAIN_TOKEN=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	chain := FromConfig(config.AuthConfig{TokenEnv: "BRIDGE_CHAIN_TOKEN", DotenvPath: path})
	if len(chain) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(chain))
	}
	tok, err := chain.Token(context.Background())
	if err != nil || tok != "from-dotenv" {
		t.Errorf("expected dotenv fallback, got %q (%v)", tok, err)
	}

	t.Setenv("BRIDGE_CHAIN_TOKEN", "from-env")
	tok, _ = chain.Token(context.Background())
	if tok != "from-env" {
		t.Errorf("expected env to take precedence, got %q", tok)
	}
}
