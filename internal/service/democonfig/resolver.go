// Package democonfig derives, validates and persists the per-session demo
// configuration produced by the demo-setup agent.
package democonfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
)

// ErrInvalidConfig is returned when agent output cannot be turned into a complete configuration.
var ErrInvalidConfig = errors.New("invalid demo configuration")

const retryDelay = 200 * time.Millisecond

// Resolver loads and saves demo configurations through a persona.Store.
type Resolver struct {
	store        persona.Store
	saveAttempts int
}

// NewResolver creates a resolver. saveAttempts below 1 is treated as 1.
func NewResolver(store persona.Store, saveAttempts int) *Resolver {
	if saveAttempts < 1 {
		saveAttempts = 1
	}
	return &Resolver{store: store, saveAttempts: saveAttempts}
}

// Load returns the stored configuration or nil when none exists.
func (r *Resolver) Load(ctx context.Context, sessionID string) (*persona.Config, error) {
	cfg, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load demo config for %s: %w", sessionID, err)
	}
	if cfg == nil {
		log.Printf("[democonfig] no stored config for session=%s", sessionID)
		return nil, nil
	}
	log.Printf("[democonfig] loaded config session=%s niche=%q company=%q", sessionID, cfg.Niche, cfg.CompanyName)
	return cfg, nil
}

// Save upserts cfg, retrying failed writes up to the configured number of attempts.
func (r *Resolver) Save(ctx context.Context, sessionID, userRef string, cfg persona.Config) error {
	var err error
	for attempt := 1; attempt <= r.saveAttempts; attempt++ {
		if err = r.store.Save(ctx, sessionID, userRef, cfg); err == nil {
			log.Printf("[democonfig] saved config session=%s attempt=%d", sessionID, attempt)
			return nil
		}
		log.Printf("[democonfig] save failed session=%s attempt=%d/%d: %v", sessionID, attempt, r.saveAttempts, err)
		if attempt == r.saveAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("save demo config for %s: %w", sessionID, ctx.Err())
		case <-time.After(retryDelay * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("save demo config for %s: %w", sessionID, err)
}

// Delete removes the stored configuration of a session.
func (r *Resolver) Delete(ctx context.Context, sessionID string) error {
	if err := r.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete demo config for %s: %w", sessionID, err)
	}
	log.Printf("[democonfig] deleted config session=%s", sessionID)
	return nil
}

// Resolve extracts a configuration from raw agent output and persists it.
func (r *Resolver) Resolve(ctx context.Context, sessionID, userRef, raw string) (*persona.Config, error) {
	cfg, err := ExtractAndValidate(raw)
	if err != nil {
		return nil, err
	}
	if err := r.Save(ctx, sessionID, userRef, *cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractAndValidate parses a configuration object out of free-form agent
// output. Code fences are stripped, then the text is parsed directly, and
// failing that the span from the first '{' to the last '}' is tried.
func ExtractAndValidate(raw string) (*persona.Config, error) {
	text := stripCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return nil, fmt.Errorf("%w: empty output", ErrInvalidConfig)
	}

	var cfg persona.Config
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: no JSON object found", ErrInvalidConfig)
		}
		cfg = persona.Config{}
		if err := json.Unmarshal([]byte(text[start:end+1]), &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if missing := cfg.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return &cfg, nil
}

// stripCodeFence removes a surrounding ``` block; the opening line may carry a language tag.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
