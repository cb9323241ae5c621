package builtin

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"testing"

	toolcore "github.com/harunnryd/hibiki/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDice(t *testing.T) {
	tests := []struct {
		in                    string
		count, sides, modifer int
		wantErr               bool
	}{
		{"d20", 1, 20, 0, false},
		{"2d6+3", 2, 6, 3, false},
		{"4D8 - 1", 4, 8, -1, false},
		{"0d6", 0, 0, 0, true},
		{"101d6", 0, 0, 0, true},
		{"1d1", 0, 0, 0, true},
		{"fireball", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			count, sides, modifier, err := parseDice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.count, count)
			assert.Equal(t, tt.sides, sides)
			assert.Equal(t, tt.modifer, modifier)
		})
	}
}

func TestRollDiceTool(t *testing.T) {
	tools, err := toolcore.InstantiateBuiltins(toolcore.BuiltinOptions{Rand: rand.New(rand.NewPCG(1, 2))})
	require.NoError(t, err)

	var dice toolcore.Tool
	for _, candidate := range tools {
		if candidate.Name() == "roll_dice" {
			dice = candidate
		}
	}
	require.NotNil(t, dice)

	params := dice.Parameters()
	assert.Equal(t, []interface{}{"notation"}, params["required"])

	raw, err := dice.Execute(context.Background(), json.RawMessage(`{"notation":"3d6+2","reason":"damage"}`))
	require.NoError(t, err)

	var roll DiceRoll
	require.NoError(t, json.Unmarshal(raw, &roll))
	require.Len(t, roll.Rolls, 3)
	sum := 2
	for _, r := range roll.Rolls {
		assert.GreaterOrEqual(t, r, 1)
		assert.LessOrEqual(t, r, 6)
		sum += r
	}
	assert.Equal(t, sum, roll.Total)
	assert.Equal(t, "damage", roll.Reason)

	_, err = dice.Execute(context.Background(), json.RawMessage(`{"notation":"lots"}`))
	assert.ErrorContains(t, err, "invalid dice notation")
}

func TestBuiltinCatalog(t *testing.T) {
	assert.Equal(t, []string{"get_weather", "roll_dice", "time"}, toolcore.BuiltinNames())

	registry, err := toolcore.NewBuiltinRegistry(toolcore.BuiltinOptions{})
	require.NoError(t, err)
	assert.True(t, registry.Sealed())
	assert.Equal(t, []string{"get_weather", "roll_dice", "time"}, registry.Names())
	assert.NotNil(t, registry.Schema("get_weather"))
}
