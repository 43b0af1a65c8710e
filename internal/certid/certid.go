// Package certid generates short human-readable certificate identifiers of the
// form EVENTCODE + YY + six random base-36 characters, e.g. WKS24K3F9QZ.
package certid

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	alphabet           = "abcdefghijklmnopqrstuvwxyz0123456789"
	randomLength       = 6
	DefaultMaxAttempts = 5
	fallbackModulus    = 100000
)

// ExistsFunc reports whether a candidate ID is already issued.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

type Generator struct {
	Rand io.Reader
	Now  func() time.Time
	Log  zerolog.Logger
}

func New(log zerolog.Logger) *Generator {
	return &Generator{
		Rand: rand.Reader,
		Now:  func() time.Time { return time.Now().UTC() },
		Log:  log.With().Str("component", "certid").Logger(),
	}
}

var std = New(zerolog.Nop())

func Generate(eventCode, eventDate string) string {
	return std.Generate(eventCode, eventDate)
}

func GenerateUnique(ctx context.Context, exists ExistsFunc, eventCode, eventDate string, maxAttempts int) string {
	return std.GenerateUnique(ctx, exists, eventCode, eventDate, maxAttempts)
}

func (g *Generator) Generate(eventCode, eventDate string) string {
	return strings.ToUpper(strings.TrimSpace(eventCode) + g.yearSuffix(eventDate) + g.random())
}

func (g *Generator) GenerateUnique(ctx context.Context, exists ExistsFunc, eventCode, eventDate string, maxAttempts int) string {
	return g.Resolve(ctx, exists, eventCode, eventDate, maxAttempts).ID
}

func (g *Generator) yearSuffix(eventDate string) string {
	year := g.Now().Year()
	eventDate = strings.TrimSpace(eventDate)
	if t, err := time.Parse("2006-01-02", eventDate); err == nil {
		year = t.Year()
	} else if t, err := time.Parse(time.RFC3339, eventDate); err == nil {
		year = t.Year()
	}
	return fmt.Sprintf("%02d", year%100)
}

func (g *Generator) random() string {
	base := big.NewInt(int64(len(alphabet)))
	out := make([]byte, randomLength)
	for i := range out {
		n, err := rand.Int(g.Rand, base)
		if err != nil {
			// reader exhausted or failing: derive the index from the clock
			n = big.NewInt((g.Now().UnixNano() + int64(i)) % int64(len(alphabet)))
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}
