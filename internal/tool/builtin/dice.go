package builtin

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	toolcore "github.com/harunnryd/hibiki/internal/tool"
)

const (
	maxDiceCount = 100
	maxDiceSides = 1000
)

var diceNotation = regexp.MustCompile(`^(\d*)d(\d+)([+-]\d+)?$`)

type DiceArgs struct {
	Notation string `json:"notation" jsonschema:"description=Dice notation such as d20 or 2d6+3"`
	Reason   string `json:"reason,omitempty" jsonschema:"description=What the roll is for"`
}

type DiceRoll struct {
	Notation string `json:"notation"`
	Rolls    []int  `json:"rolls"`
	Modifier int    `json:"modifier"`
	Total    int    `json:"total"`
	Reason   string `json:"reason,omitempty"`
}

func init() {
	toolcore.RegisterBuiltin("roll_dice", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		roller := newDiceRoller(options.Rand)
		dice, err := toolcore.NewFunc("roll_dice", "Roll tabletop dice using standard notation (for example 2d6+3).", roller.roll)
		if err != nil {
			return nil, err
		}
		return dice.WithMetadata(toolcore.ToolMetadata{
			Source:       "builtin",
			Capabilities: []string{"dice.roll", "random"},
			Risk:         toolcore.RiskLow,
		}), nil
	})
}

type diceRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newDiceRoller(rng *rand.Rand) *diceRoller {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &diceRoller{rng: rng}
}

func (d *diceRoller) roll(ctx context.Context, args DiceArgs) (any, error) {
	count, sides, modifier, err := parseDice(args.Notation)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	result := DiceRoll{
		Notation: strings.TrimSpace(args.Notation),
		Rolls:    make([]int, count),
		Modifier: modifier,
		Total:    modifier,
		Reason:   args.Reason,
	}
	for i := range result.Rolls {
		result.Rolls[i] = d.rng.IntN(sides) + 1
		result.Total += result.Rolls[i]
	}
	return result, nil
}

func parseDice(notation string) (count, sides, modifier int, err error) {
	m := diceNotation.FindStringSubmatch(strings.ToLower(strings.ReplaceAll(notation, " ", "")))
	if m == nil {
		return 0, 0, 0, fmt.Errorf("invalid dice notation %q", notation)
	}

	count = 1
	if m[1] != "" {
		count, _ = strconv.Atoi(m[1])
	}
	sides, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		modifier, _ = strconv.Atoi(m[3])
	}

	if count < 1 || count > maxDiceCount {
		return 0, 0, 0, fmt.Errorf("dice count must be between 1 and %d", maxDiceCount)
	}
	if sides < 2 || sides > maxDiceSides {
		return 0, 0, 0, fmt.Errorf("dice sides must be between 2 and %d", maxDiceSides)
	}
	return count, sides, modifier, nil
}
