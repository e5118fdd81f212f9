package pricing

import (
	"strings"

	"github.com/fixpoint-repair/buyback/internal/model"
)

// conditionGrades maps customer-facing condition labels (lowercased) to
// price sheet grades.
var conditionGrades = map[string]model.Grade{
	"flawless":          model.GradeA,
	"like new":          model.GradeA,
	"mint":              model.GradeA,
	"excellent":         model.GradeB,
	"very good":         model.GradeB,
	"good":              model.GradeC,
	"fair":              model.GradeD,
	"poor":              model.GradeD,
	"broken":            model.GradeDOA,
	"damaged":           model.GradeDOA,
	"dead":              model.GradeDOA,
	"doa":               model.GradeDOA,
	"does not power on": model.GradeDOA,
}

// GradeForCondition resolves a condition label to a grade.
func GradeForCondition(condition string) (model.Grade, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(condition), " "))
	g, ok := conditionGrades[key]
	return g, ok
}

// NormalizeNetwork maps a requested network onto the two stored quote
// networks: Unlocked stays, everything else is Carrier Locked.
func NormalizeNetwork(network string) string {
	if strings.EqualFold(strings.TrimSpace(network), model.NetworkUnlocked) {
		return model.NetworkUnlocked
	}
	return model.NetworkCarrierLocked
}
