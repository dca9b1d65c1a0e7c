package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/planvista/planvista/pkg/models"
)

const (
	// A single holding above this weight flags the portfolio as concentrated.
	concentrationThreshold = 0.25
	// Drift below this magnitude does not generate a rebalance action.
	driftActionThreshold = 0.05
)

// ReportProducer fills the report slot: valuation, allocation weights, drift
// against the target allocation, concentration flags, and rebalance actions.
type ReportProducer struct{}

func (p *ReportProducer) Slot() models.ResultSlot { return models.SlotReport }

func (p *ReportProducer) Produce(_ context.Context, job *models.Job) (json.RawMessage, error) {
	req, err := parseRequest(job)
	if err != nil {
		return nil, err
	}

	total := totalValue(req)
	weights := allocation(req)

	payload := models.ReportPayload{
		TotalValue:  round2(total),
		CashBalance: round2(req.CashBalance),
		Allocation:  roundWeights(weights),
	}

	if top, weight := topHolding(req, total); top != "" {
		payload.TopHolding = top
		payload.TopHoldingWeight = round4(weight)
		payload.Concentrated = weight > concentrationThreshold
	}

	if len(req.TargetAllocation) > 0 {
		payload.Drift = driftAgainstTarget(weights, req.TargetAllocation)
		payload.Actions = rebalanceActions(payload.Drift, total)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode report payload: %w", err)
	}
	return out, nil
}

func topHolding(req *models.AnalysisRequest, total float64) (string, float64) {
	if total <= 0 {
		return "", 0
	}
	var symbol string
	var best float64
	for _, h := range req.Holdings {
		if v := h.Value(); v > best {
			best = v
			symbol = h.Symbol
		}
	}
	return symbol, best / total
}

// driftAgainstTarget is current weight minus target weight per asset class.
// Classes present on either side appear in the result.
func driftAgainstTarget(weights, target map[string]float64) map[string]float64 {
	drift := map[string]float64{}
	for class, w := range weights {
		drift[class] = round4(w - target[class])
	}
	for class, t := range target {
		if _, seen := weights[class]; !seen {
			drift[class] = round4(-t)
		}
	}
	return drift
}

// rebalanceActions converts significant drift into buy/sell amounts, sorted by
// asset class for deterministic output.
func rebalanceActions(drift map[string]float64, total float64) []models.RebalanceAction {
	classes := make([]string, 0, len(drift))
	for class := range drift {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	var actions []models.RebalanceAction
	for _, class := range classes {
		d := drift[class]
		if math.Abs(d) < driftActionThreshold {
			continue
		}
		side := "buy"
		if d > 0 {
			side = "sell"
		}
		actions = append(actions, models.RebalanceAction{
			AssetClass: class,
			Side:       side,
			Amount:     round2(math.Abs(d) * total),
		})
	}
	return actions
}

func roundWeights(weights map[string]float64) map[string]float64 {
	rounded := make(map[string]float64, len(weights))
	for class, w := range weights {
		rounded[class] = round4(w)
	}
	return rounded
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
