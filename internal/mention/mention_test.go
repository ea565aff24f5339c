package mention

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/madhatter5501/dispatchd/internal/domain"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"none", "no handles here", nil},
		{"single", "hey @dev-frontend can you look?", []string{"dev-frontend"}},
		{"dedup case insensitive", "@Planner review this, @planner again", []string{"Planner"}},
		{"dotted handle", "ping @qa.bot please", []string{"qa.bot"}},
		{"trailing punctuation", "cc @reviewer, thanks!", []string{"reviewer"}},
		{"multiple distinct", "@a @b @a @c", []string{"a", "b", "c"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Extract(c.text)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	planner := &domain.Agent{ID: "1", Name: "planner", Enabled: true}
	disabled := &domain.Agent{ID: "2", Name: "disabled-agent", Enabled: false}

	lookup := func(name string) (*domain.Agent, error) {
		switch name {
		case "planner":
			return planner, nil
		case "disabled-agent":
			return disabled, nil
		case "errors-out":
			return nil, errors.New("boom")
		default:
			return nil, errors.New("not found")
		}
	}

	t.Run("resolves known enabled agent", func(t *testing.T) {
		got := Resolve("hey @planner", lookup)
		assert.Equal(t, []domain.Agent{*planner}, got)
	})

	t.Run("skips disabled agent silently", func(t *testing.T) {
		got := Resolve("hey @disabled-agent", lookup)
		assert.Nil(t, got)
	})

	t.Run("skips unknown handle silently", func(t *testing.T) {
		got := Resolve("hey @nobody", lookup)
		assert.Nil(t, got)
	})

	t.Run("skips lookup error silently", func(t *testing.T) {
		got := Resolve("hey @errors-out", lookup)
		assert.Nil(t, got)
	})

	t.Run("no handles returns nil without calling lookup", func(t *testing.T) {
		called := false
		got := Resolve("no mentions", func(string) (*domain.Agent, error) {
			called = true
			return nil, nil
		})
		assert.Nil(t, got)
		assert.False(t, called)
	})

	t.Run("mixed handles returns only resolvable ones", func(t *testing.T) {
		got := Resolve("@planner @nobody @disabled-agent", lookup)
		assert.Equal(t, []domain.Agent{*planner}, got)
	})
}
