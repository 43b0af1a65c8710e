package certid

import (
	"context"
	"fmt"
	"strings"
)

type state int

const (
	stateGenerating state = iota
	stateChecking
	stateAccepted
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateGenerating:
		return "generating"
	case stateChecking:
		return "checking"
	case stateAccepted:
		return "accepted"
	case stateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Result describes how an identifier was obtained.
type Result struct {
	ID          string
	Attempts    int
	Fallback    bool
	CheckErrors int
}

// Resolve runs the bounded uniqueness loop. Each attempt generates one
// candidate and checks it once; a failing check consumes the attempt. When
// maxAttempts is exhausted it returns a timestamp-suffixed candidate without a
// final existence check.
func (g *Generator) Resolve(ctx context.Context, exists ExistsFunc, eventCode, eventDate string, maxAttempts int) Result {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	var (
		res       Result
		candidate string
		st        = stateGenerating
	)
	for {
		switch st {
		case stateGenerating:
			if res.Attempts >= maxAttempts {
				st = stateExhausted
				continue
			}
			res.Attempts++
			candidate = g.Generate(eventCode, eventDate)
			st = stateChecking

		case stateChecking:
			taken, err := exists(ctx, candidate)
			switch {
			case err != nil:
				res.CheckErrors++
				g.Log.Warn().Err(err).Str("candidate", candidate).Int("attempt", res.Attempts).Msg("certificate id existence check failed")
				st = stateGenerating
			case taken:
				g.Log.Debug().Str("candidate", candidate).Int("attempt", res.Attempts).Msg("certificate id collision")
				st = stateGenerating
			default:
				st = stateAccepted
			}

		case stateAccepted:
			res.ID = candidate
			return res

		case stateExhausted:
			res.ID = g.fallback(eventCode, eventDate)
			res.Fallback = true
			g.Log.Warn().Str("id", res.ID).Int("attempts", res.Attempts).Msg("certificate id attempts exhausted, using timestamp suffix")
			return res
		}
	}
}

func (g *Generator) fallback(eventCode, eventDate string) string {
	suffix := fmt.Sprintf("%05d", g.Now().UnixMilli()%fallbackModulus)
	return strings.ToUpper(g.Generate(eventCode, eventDate) + suffix)
}
