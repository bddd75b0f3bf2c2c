package domain

import "fmt"

// CorrelationGroup buckets instruments assumed to move together for
// risk-limiting purposes. The August 2024 rule caps simultaneous open
// positions per group, per phase.
type CorrelationGroup string

const (
	GroupEquities   CorrelationGroup = "EQUITIES"
	GroupBonds      CorrelationGroup = "BONDS"
	GroupMetals     CorrelationGroup = "METALS"
	GroupEnergy     CorrelationGroup = "ENERGY"
	GroupCurrencies CorrelationGroup = "CURRENCIES"
)

// Groups lists every known correlation group in stable order.
func Groups() []CorrelationGroup {
	return []CorrelationGroup{GroupEquities, GroupBonds, GroupMetals, GroupEnergy, GroupCurrencies}
}

// ParseGroup validates a configured group name.
func ParseGroup(s string) (CorrelationGroup, error) {
	g := CorrelationGroup(s)
	for _, known := range Groups() {
		if g == known {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown correlation group %q", s)
}
