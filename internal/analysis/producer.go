// Package analysis contains the result producers for analysis jobs. Each
// producer fills exactly one result slot and is independent of the others, so
// the worker pool runs them concurrently against the same job.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/planvista/planvista/pkg/models"
)

// Producer computes the payload for one result slot from a job's request.
type Producer interface {
	Slot() models.ResultSlot
	Produce(ctx context.Context, job *models.Job) (json.RawMessage, error)
}

// Producers returns the three independent slot producers in slot order.
// The summary slot is filled by BuildSummary at finalization.
func Producers() []Producer {
	return []Producer{
		&ReportProducer{},
		&ChartsProducer{},
		&RetirementProducer{},
	}
}

const (
	defaultExpectedReturn = 0.05
	maxExpectedReturn     = 0.15
	projectionEndAge      = 100
)

// parseRequest decodes and validates the job's request payload. A request
// that cannot be analyzed fails the job rather than completing it with
// missing slots.
func parseRequest(job *models.Job) (*models.AnalysisRequest, error) {
	var req models.AnalysisRequest
	if err := json.Unmarshal(job.Request, &req); err != nil {
		return nil, fmt.Errorf("decode request payload: %w", err)
	}

	if len(req.Holdings) == 0 && req.CashBalance <= 0 {
		return nil, fmt.Errorf("portfolio is empty: no holdings and no cash balance")
	}
	for i, h := range req.Holdings {
		if h.Symbol == "" {
			return nil, fmt.Errorf("holding %d: symbol is required", i)
		}
		if h.Quantity < 0 || h.Price < 0 {
			return nil, fmt.Errorf("holding %s: quantity and price must be non-negative", h.Symbol)
		}
	}
	if req.ExpectedReturn < 0 || req.ExpectedReturn > maxExpectedReturn {
		return nil, fmt.Errorf("expected_return must be between 0 and %v", maxExpectedReturn)
	}
	if req.ExpectedReturn == 0 {
		req.ExpectedReturn = defaultExpectedReturn
	}
	return &req, nil
}

// totalValue is the portfolio's market value including cash.
func totalValue(req *models.AnalysisRequest) float64 {
	total := req.CashBalance
	for _, h := range req.Holdings {
		total += h.Value()
	}
	return total
}

// allocation returns per-asset-class weights, with cash under "cash".
// Weights sum to 1 for a non-empty portfolio.
func allocation(req *models.AnalysisRequest) map[string]float64 {
	total := totalValue(req)
	if total <= 0 {
		return map[string]float64{}
	}
	byClass := map[string]float64{}
	for _, h := range req.Holdings {
		class := h.AssetClass
		if class == "" {
			class = "other"
		}
		byClass[class] += h.Value()
	}
	if req.CashBalance > 0 {
		byClass["cash"] += req.CashBalance
	}
	weights := make(map[string]float64, len(byClass))
	for class, value := range byClass {
		weights[class] = value / total
	}
	return weights
}

// projectGrowth compounds value forward year by year with annual
// contributions, returning one point per year including year zero.
func projectGrowth(start, annualContribution, rate float64, years int) []models.LinePoint {
	points := make([]models.LinePoint, 0, years+1)
	value := start
	for year := 0; year <= years; year++ {
		points = append(points, models.LinePoint{Year: year, Value: round2(value)})
		value = value*(1+rate) + annualContribution
	}
	return points
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
