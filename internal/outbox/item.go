package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/aquamarinepk/aqm"
)

const (
	StoreKey      = "outbox"
	DeadLetterKey = "outbox.dead"
)

var ErrInvalidItem = errors.New("invalid outbox item")

// Item is one write waiting for delivery to the remote service.
type Item struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"createdAt"`
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	RequireAuth    bool            `json:"requireAuth"`
	Privileged     bool            `json:"privileged,omitempty"`
	Caller         string          `json:"caller,omitempty"`
	DedupeKey      string          `json:"dedupeKey,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Attempts       int             `json:"attempts"`
	NextAttemptAt  time.Time       `json:"nextAttemptAt"`
	LastError      string          `json:"lastError,omitempty"`
}

func (i Item) validate() error {
	if i.Method == "" || i.Path == "" {
		return ErrInvalidItem
	}
	if len(i.Body) > 0 && !json.Valid(i.Body) {
		return ErrInvalidItem
	}
	return nil
}

// DeadLetter is an item the queue gave up on.
type DeadLetter struct {
	Item      Item      `json:"item"`
	Reason    string    `json:"reason"`
	DroppedAt time.Time `json:"droppedAt"`
}

// document is the persisted layout under StoreKey.
type document struct {
	Items []Item `json:"items"`
}

type deadLetters struct {
	Items []DeadLetter `json:"items"`
}

// Result reports one flush pass.
type Result struct {
	Sent      int    `json:"sent"`
	Remaining int    `json:"remaining"`
	Dropped   int    `json:"dropped,omitempty"`
	Paused    bool   `json:"paused,omitempty"`
	Busy      bool   `json:"busy,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

type Config struct {
	FlushInterval  time.Duration
	MaxItems       int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AuthCooldown   time.Duration
	MaxAttempts    int
	MaxAge         time.Duration
	MaxDeadLetters int
}

func DefaultConfig() Config {
	return Config{
		FlushInterval:  5 * time.Second,
		MaxItems:       500,
		BaseDelay:      2 * time.Second,
		MaxDelay:       5 * time.Minute,
		AuthCooldown:   30 * time.Second,
		MaxAttempts:    50,
		MaxAge:         72 * time.Hour,
		MaxDeadLetters: 100,
	}
}

func ConfigFrom(config *aqm.Config) Config {
	cfg := DefaultConfig()
	if config == nil {
		return cfg
	}
	durations := map[string]*time.Duration{
		"outbox.flush.interval": &cfg.FlushInterval,
		"outbox.backoff.base":   &cfg.BaseDelay,
		"outbox.backoff.max":    &cfg.MaxDelay,
		"outbox.auth.cooldown":  &cfg.AuthCooldown,
		"outbox.max.age":        &cfg.MaxAge,
	}
	for key, target := range durations {
		if raw := config.GetStringOrDef(key, ""); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil && d > 0 {
				*target = d
			}
		}
	}
	ints := map[string]*int{
		"outbox.max.items":    &cfg.MaxItems,
		"outbox.max.attempts": &cfg.MaxAttempts,
	}
	for key, target := range ints {
		if n := atoiOr(config.GetStringOrDef(key, ""), 0); n > 0 {
			*target = n
		}
	}
	return cfg
}
