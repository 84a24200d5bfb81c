package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "One Piece", "one piece"},
		{"colon and dash are equivalent", "Frieren: Beyond Journey's End", "frieren beyond journey s end"},
		{"dash variant", "Frieren - Beyond Journey's End", "frieren beyond journey s end"},
		{"collapses whitespace", "  Attack   on\tTitan ", "attack on titan"},
		{"strips cjk brackets", "「Oshi no Ko」", "oshi no ko"},
		{"strips fullwidth parens", "Fate／Zero（2011）", "fate／zero 2011"},
		{"em and en dashes", "Re–Zero — Starting Life", "re zero starting life"},
		{"slashes and dots", "Steins;Gate 0.5/Part", "steins;gate 0 5 part"},
		{"empty", "", ""},
		{"punctuation only", ":-.,!?", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeTitle(tc.in))
		})
	}
}

func TestNormalizeTitleEquates(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"Mushoku Tensei: Jobless Reincarnation", "Mushoku Tensei - Jobless Reincarnation"},
		{"JUJUTSU KAISEN", "Jujutsu Kaisen"},
		{"Dr. STONE", "Dr STONE"},
	}
	for _, p := range pairs {
		assert.Equal(t, NormalizeTitle(p[0]), NormalizeTitle(p[1]),
			"%q and %q should normalize identically", p[0], p[1])
	}
}
