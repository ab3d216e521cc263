package utils

import (
	"fmt"
	"sort"
	"strings"
)

// PartCostSchedule is the fixed replacement cost of each device part.
type PartCostSchedule struct {
	Costs       map[string]int32
	DefaultCost int32
}

// NewPartCostSchedule normalizes part names so lookups ignore case and
// surrounding spaces.
func NewPartCostSchedule(costs map[string]int32, defaultCost int32) PartCostSchedule {
	normalized := make(map[string]int32, len(costs))
	for part, cents := range costs {
		normalized[NormalizePart(part)] = cents
	}
	return PartCostSchedule{Costs: normalized, DefaultCost: defaultCost}
}

// NormalizePart lowercases a part name and collapses separators to "_".
func NormalizePart(part string) string {
	fields := strings.FieldsFunc(strings.ToLower(part), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// DamageLine is one charged part.
type DamageLine struct {
	Part      string
	CostCents int32
}

// DamageFeeBreakdown provides detailed breakdown of a damage fee
type DamageFeeBreakdown struct {
	Lines      []DamageLine
	TotalCents int32
}

// Description renders the charged parts for the fee notes.
func (b DamageFeeBreakdown) Description() string {
	parts := make([]string, 0, len(b.Lines))
	for _, l := range b.Lines {
		parts = append(parts, fmt.Sprintf("%s %s", l.Part, FormatCents(l.CostCents)))
	}
	return strings.Join(parts, ", ")
}

// CalculateDamageFee prices the reported parts. A part missing from the
// schedule is charged the default cost; without a default it is an error.
func CalculateDamageFee(parts []string, schedule PartCostSchedule) (DamageFeeBreakdown, error) {
	var b DamageFeeBreakdown
	for _, raw := range parts {
		part := NormalizePart(raw)
		if part == "" {
			continue
		}
		cost, ok := schedule.Costs[part]
		if !ok {
			if schedule.DefaultCost <= 0 {
				return DamageFeeBreakdown{}, fmt.Errorf("no cost configured for part %q", raw)
			}
			cost = schedule.DefaultCost
		}
		b.Lines = append(b.Lines, DamageLine{Part: part, CostCents: cost})
		b.TotalCents += cost
	}
	sort.SliceStable(b.Lines, func(i, j int) bool { return b.Lines[i].Part < b.Lines[j].Part })
	return b, nil
}

// FormatCents renders integer cents as dollars, e.g. 2500 -> "$25.00".
func FormatCents(cents int32) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
