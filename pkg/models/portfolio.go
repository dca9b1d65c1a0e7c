package models

// AnalysisRequest is the request payload submitted with a job. All amounts are
// in the account's base currency.
type AnalysisRequest struct {
	Holdings           []Holding          `json:"holdings"`
	CashBalance        float64            `json:"cash_balance"`
	AnnualContribution float64            `json:"annual_contribution"`
	TargetAllocation   map[string]float64 `json:"target_allocation,omitempty"`
	CurrentAge         int                `json:"current_age"`
	RetirementAge      int                `json:"retirement_age"`
	AnnualSpending     float64            `json:"annual_spending"`
	ExpectedReturn     float64            `json:"expected_return,omitempty"`
}

// Holding is one position in the portfolio.
type Holding struct {
	Symbol     string  `json:"symbol"`
	AssetClass string  `json:"asset_class"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
}

// Value returns the market value of the holding.
func (h Holding) Value() float64 { return h.Quantity * h.Price }

// ReportPayload fills the report result slot.
type ReportPayload struct {
	TotalValue       float64            `json:"total_value"`
	CashBalance      float64            `json:"cash_balance"`
	Allocation       map[string]float64 `json:"allocation"`
	Drift            map[string]float64 `json:"drift,omitempty"`
	TopHolding       string             `json:"top_holding"`
	TopHoldingWeight float64            `json:"top_holding_weight"`
	Concentrated     bool               `json:"concentrated"`
	Actions          []RebalanceAction  `json:"actions,omitempty"`
}

// RebalanceAction is one buy/sell step that moves the portfolio toward its
// target allocation.
type RebalanceAction struct {
	AssetClass string  `json:"asset_class"`
	Side       string  `json:"side"` // "buy" or "sell"
	Amount     float64 `json:"amount"`
}

// ChartsPayload fills the charts result slot with render-ready series.
type ChartsPayload struct {
	AllocationPie []PieSlice  `json:"allocation_pie"`
	DriftBars     []BarPoint  `json:"drift_bars,omitempty"`
	GrowthLine    []LinePoint `json:"growth_line"`
}

type PieSlice struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type BarPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type LinePoint struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

// RetirementPayload fills the retirement_projection result slot.
type RetirementPayload struct {
	ValueAtRetirement float64 `json:"value_at_retirement"`
	YearsToRetirement int     `json:"years_to_retirement"`
	ReadinessRatio    float64 `json:"readiness_ratio"`
	DepletionAge      int     `json:"depletion_age,omitempty"` // 0 means funds outlast the projection horizon
	OnTrack           bool    `json:"on_track"`
}

// SummaryPayload fills the summary result slot; it aggregates the other three.
type SummaryPayload struct {
	Headline          string  `json:"headline"`
	TotalValue        float64 `json:"total_value"`
	ValueAtRetirement float64 `json:"value_at_retirement"`
	ReadinessRatio    float64 `json:"readiness_ratio"`
	OnTrack           bool    `json:"on_track"`
	ActionCount       int     `json:"action_count"`
}
