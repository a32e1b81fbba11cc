package lottery

import (
	"math"
	"sort"

	"github.com/ichi0g0y/lucky-draw/internal/types"
)

// QuotaKey は社員の部署が属するクォータのバケットを返す。
// クォータ表に部署がなければ "Others" に集計する。
func QuotaKey(department string, quotas map[string]float64) string {
	dept := types.Employee{Department: department}.DepartmentOrOthers()
	if _, ok := quotas[dept]; ok {
		return dept
	}
	return types.OthersDepartment
}

// MaxAllowed は floor(maxDraws * percent / 100) を返す。
// 小さなmaxDrawsで0に切り捨てられた部署はそのセッションで当選できない。
func MaxAllowed(maxDraws int, percent float64) int {
	if maxDraws <= 0 || percent <= 0 {
		return 0
	}
	return int(math.Floor(float64(maxDraws) * percent / 100))
}

// CountByQuotaKey は当選者をクォータのバケットごとに数える。
func CountByQuotaKey(winners []types.Employee, quotas map[string]float64) map[string]int {
	counts := make(map[string]int, len(quotas)+1)
	for _, w := range winners {
		counts[QuotaKey(w.Department, quotas)]++
	}
	return counts
}

// EligibleCandidates returns employees who have not won yet and whose
// department bucket is still below its cap. An empty result is a normal outcome.
func EligibleCandidates(employees, winners []types.Employee, quotas map[string]float64, maxDraws int) []types.Employee {
	excluded := make(map[string]struct{}, len(winners))
	for _, w := range winners {
		excluded[w.ID] = struct{}{}
	}
	counts := CountByQuotaKey(winners, quotas)

	eligible := make([]types.Employee, 0, len(employees))
	for _, emp := range employees {
		if _, won := excluded[emp.ID]; won {
			continue
		}
		key := QuotaKey(emp.Department, quotas)
		if counts[key] < MaxAllowed(maxDraws, quotas[key]) {
			eligible = append(eligible, emp)
		}
	}
	return eligible
}

// BucketUsage is the quota consumption of one bucket.
type BucketUsage struct {
	Key        string  `json:"key"`
	Percent    float64 `json:"percent"`
	MaxAllowed int     `json:"max_allowed"`
	Won        int     `json:"won"`
}

// QuotaUsage は各バケットの上限と当選数を返す。Othersは常に含める。
func QuotaUsage(winners []types.Employee, quotas map[string]float64, maxDraws int) []BucketUsage {
	counts := CountByQuotaKey(winners, quotas)

	keys := make([]string, 0, len(quotas)+1)
	for k := range quotas {
		keys = append(keys, k)
	}
	if _, ok := quotas[types.OthersDepartment]; !ok {
		keys = append(keys, types.OthersDepartment)
	}
	sort.Strings(keys)

	usage := make([]BucketUsage, 0, len(keys))
	for _, k := range keys {
		usage = append(usage, BucketUsage{
			Key:        k,
			Percent:    quotas[k],
			MaxAllowed: MaxAllowed(maxDraws, quotas[k]),
			Won:        counts[k],
		})
	}
	return usage
}
