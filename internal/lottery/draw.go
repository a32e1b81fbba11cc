package lottery

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ichi0g0y/lucky-draw/internal/types"
)

var (
	ErrNoCandidates     = errors.New("no candidates")
	ErrUnknownPolicy    = errors.New("unknown selection policy")
	errInvalidWeightSum = errors.New("invalid total weight")
)

// Selector は有資格者の中から1人を選ぶ戦略。
type Selector interface {
	Pick(candidates []types.Employee, quotas map[string]float64) (*types.Employee, error)
	Policy() types.SelectionPolicy
}

var (
	drawRandomInt   = secureRandomInt
	drawRandomFloat = secureRandomFloat
)

// UniformSelector は有資格者から一様に1人選ぶ。
type UniformSelector struct{}

func (UniformSelector) Policy() types.SelectionPolicy { return types.SelectionUniform }

func (UniformSelector) Pick(candidates []types.Employee, _ map[string]float64) (*types.Employee, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	idx, err := drawRandomInt(len(candidates))
	if err != nil {
		return nil, fmt.Errorf("failed to pick random index: %w", err)
	}
	winner := candidates[idx]
	return &winner, nil
}

// WeightedSelector weights each candidate by its bucket percent (at least 1)
// and samples on the cumulative weight.
type WeightedSelector struct{}

func (WeightedSelector) Policy() types.SelectionPolicy { return types.SelectionWeighted }

// WeightedEmployee は累積重み抽選に使用するエントリ。
type WeightedEmployee struct {
	Employee      types.Employee
	Weight        float64
	CumulativeSum float64
}

func (WeightedSelector) Pick(candidates []types.Employee, quotas map[string]float64) (*types.Employee, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	weighted, total := BuildWeighted(candidates, quotas)
	if total <= 0 {
		return nil, errInvalidWeightSum
	}

	r, err := drawRandomFloat()
	if err != nil {
		return nil, fmt.Errorf("failed to pick random weight: %w", err)
	}
	target := r * total

	for _, w := range weighted {
		if w.CumulativeSum > target {
			winner := w.Employee
			return &winner, nil
		}
	}
	// r < 1 なので通常ここには来ないが、浮動小数の誤差に備えて末尾を返す
	winner := weighted[len(weighted)-1].Employee
	return &winner, nil
}

// BuildWeighted は候補者ごとの重みと累積和を計算する。
func BuildWeighted(candidates []types.Employee, quotas map[string]float64) ([]WeightedEmployee, float64) {
	weighted := make([]WeightedEmployee, 0, len(candidates))
	total := 0.0
	for _, emp := range candidates {
		weight := quotas[QuotaKey(emp.Department, quotas)]
		if weight < 1 {
			weight = 1
		}
		total += weight
		weighted = append(weighted, WeightedEmployee{
			Employee:      emp,
			Weight:        weight,
			CumulativeSum: total,
		})
	}
	return weighted, total
}

// SelectorFor returns the strategy for a configured policy name. Empty means uniform.
func SelectorFor(policy types.SelectionPolicy) (Selector, error) {
	switch types.SelectionPolicy(strings.ToLower(strings.TrimSpace(string(policy)))) {
	case "", types.SelectionUniform:
		return UniformSelector{}, nil
	case types.SelectionWeighted:
		return WeightedSelector{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
}

// SelectWinner applies the quota filter and picks one winner.
// It returns (nil, nil) when nobody is eligible.
func SelectWinner(selector Selector, employees, winners []types.Employee, quotas map[string]float64, maxDraws int) (*types.Employee, error) {
	eligible := EligibleCandidates(employees, winners, quotas, maxDraws)
	if len(eligible) == 0 {
		return nil, nil
	}
	if selector == nil {
		selector = UniformSelector{}
	}
	return selector.Pick(eligible, quotas)
}

func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, errInvalidWeightSum
	}

	n, err := crand.Int(crand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// secureRandomFloat returns a value in [0, 1) with 53 random bits.
func secureRandomFloat() (float64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, err
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53), nil
}
