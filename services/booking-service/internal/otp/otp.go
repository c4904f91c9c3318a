package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrExpired   = errors.New("code expired")
	ErrMismatch  = errors.New("code does not match")
	ErrExhausted = errors.New("too many attempts")
)

type Config struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

// Challenge is the stored side of a one-time code. Only the bcrypt hash is kept.
type Challenge struct {
	Hash        string    `json:"hash"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
}

// Remaining is the number of verification attempts left.
func (c Challenge) Remaining() int {
	if c.Attempts >= c.MaxAttempts {
		return 0
	}
	return c.MaxAttempts - c.Attempts
}

type Issuer struct {
	cfg Config
}

func NewIssuer(cfg Config) *Issuer {
	if cfg.Digits <= 0 {
		cfg.Digits = 4
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Cost == 0 {
		cfg.Cost = bcrypt.DefaultCost
	}
	return &Issuer{cfg: cfg}
}

// Issue creates a fresh code and its challenge. The plain code is returned once for delivery.
func (i *Issuer) Issue(now time.Time) (string, Challenge, error) {
	code, err := randomDigits(i.cfg.Digits)
	if err != nil {
		return "", Challenge{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), i.cfg.Cost)
	if err != nil {
		return "", Challenge{}, err
	}
	return code, Challenge{
		Hash:        string(hash),
		ExpiresAt:   now.Add(i.cfg.TTL),
		MaxAttempts: i.cfg.MaxAttempts,
	}, nil
}

// Verify checks code against ch and counts the attempt. Once the attempts are used up
// every further call returns ErrExhausted, even with the right code.
func Verify(ch *Challenge, code string, now time.Time) error {
	if ch.Remaining() == 0 {
		return ErrExhausted
	}
	if !now.Before(ch.ExpiresAt) {
		return ErrExpired
	}
	ch.Attempts++
	if bcrypt.CompareHashAndPassword([]byte(ch.Hash), []byte(code)) != nil {
		if ch.Remaining() == 0 {
			return ErrExhausted
		}
		return ErrMismatch
	}
	return nil
}

func randomDigits(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
