// Package usecases contains application business rules.
// Clean Architecture: Usecases orchestrate entities and depend on port interfaces.
package usecases

import (
	"fmt"
	"math"

	"github.com/covermind/covermind/internal/domain/entities"
)

// RawCap saturates the popularity weight: beyond 20 distinct submitters an
// answer gains no further weight.
const RawCap = 20

// AnswerWeight converts an answer's distinct-submitter count into its
// snapshot weight: 1 + ln(1 + min(n, RawCap)). Monotonic non-decreasing.
// A negative count is a programming error, not a user-facing condition.
func AnswerWeight(distinctSubmitters int) float64 {
	if distinctSubmitters < 0 {
		panic(fmt.Sprintf("usecases: negative distinct submitter count %d", distinctSubmitters))
	}
	n := distinctSubmitters
	if n > RawCap {
		n = RawCap
	}
	return 1 + math.Log(1+float64(n))
}

// ClusterWeight sums the answer weights of the snapshot members belonging
// to one cluster. Members evicted before snapshot time are simply absent
// from the slice and contribute nothing.
func ClusterWeight(members []entities.SnapshotAnswer) float64 {
	var sum float64
	for _, m := range members {
		sum += m.Weight
	}
	return sum
}
