// internal/sequence/sequence.go
package sequence

import (
	"fmt"
	"math/rand/v2"
)

// Color is one symbol of the pattern players must repeat.
type Color string

const (
	Green  Color = "green"
	Red    Color = "red"
	Yellow Color = "yellow"
	Blue   Color = "blue"
)

// Palette is the fixed alphabet every room draws from.
var Palette = []Color{Green, Red, Yellow, Blue}

// ParseColor validates a color sent by a client.
func ParseColor(s string) (Color, error) {
	for _, c := range Palette {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown color %q", s)
}

// Source yields a uniform integer in [0, n). *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Generator picks the next step appended to a room's pattern.
// Each call is independent of every previous one.
type Generator struct {
	src     Source
	palette []Color
}

// NewGenerator returns a generator over Palette. A nil src uses the
// process-wide math/rand/v2 generator, which is safe for concurrent use.
func NewGenerator(src Source) *Generator {
	if src == nil {
		src = globalSource{}
	}
	return &Generator{src: src, palette: Palette}
}

// Next returns one color drawn uniformly with replacement.
func (g *Generator) Next() Color {
	return g.palette[g.src.IntN(len(g.palette))]
}
