package domain

import "strings"

// PaymentScenario identifies which fulfillment flow owns a paid intent.
// It is resolved once from intent metadata and dispatched through a handler registry.
type PaymentScenario int

const (
	ScenarioUnknown PaymentScenario = iota
	ScenarioSingle
	ScenarioResale
	ScenarioGroupSplit
	ScenarioGroupFull
	ScenarioSecondCharge
	ScenarioBookingChange
)

var scenarioNames = map[PaymentScenario]string{
	ScenarioUnknown:       "UNKNOWN",
	ScenarioSingle:        "SINGLE",
	ScenarioResale:        "RESALE",
	ScenarioGroupSplit:    "GROUP_SPLIT",
	ScenarioGroupFull:     "GROUP_FULL",
	ScenarioSecondCharge:  "GROUP_SPLIT_SECOND_CHARGE",
	ScenarioBookingChange: "BOOKING_CHANGE",
}

var scenarioAliases = map[string]PaymentScenario{
	"":                          ScenarioSingle,
	"SINGLE":                    ScenarioSingle,
	"DEFAULT":                   ScenarioSingle,
	"RESALE":                    ScenarioResale,
	"GROUP_SPLIT":               ScenarioGroupSplit,
	"SPLIT":                     ScenarioGroupSplit,
	"GROUP_FULL":                ScenarioGroupFull,
	"GROUP_SPLIT_SECOND_CHARGE": ScenarioSecondCharge,
	"SECOND_CHARGE":             ScenarioSecondCharge,
	"BOOKING_CHANGE":            ScenarioBookingChange,
}

// ParseScenario normalizes a raw discriminator. Missing values mean the default
// single-purchase flow; unrecognized values map to ScenarioUnknown so no handler claims them.
func ParseScenario(raw string) PaymentScenario {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if s, ok := scenarioAliases[norm]; ok {
		return s
	}
	return ScenarioUnknown
}

func (s PaymentScenario) String() string {
	if name, ok := scenarioNames[s]; ok {
		return name
	}
	return scenarioNames[ScenarioUnknown]
}
