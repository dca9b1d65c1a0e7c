package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/planvista/planvista/pkg/models"
)

// Horizon used when the request carries no ages to project between.
const defaultGrowthYears = 30

// ChartsProducer fills the charts slot with render-ready series: an
// allocation pie, drift bars against the target allocation, and a growth
// projection line.
type ChartsProducer struct{}

func (p *ChartsProducer) Slot() models.ResultSlot { return models.SlotCharts }

func (p *ChartsProducer) Produce(_ context.Context, job *models.Job) (json.RawMessage, error) {
	req, err := parseRequest(job)
	if err != nil {
		return nil, err
	}

	weights := allocation(req)

	payload := models.ChartsPayload{
		AllocationPie: pieSlices(weights),
		GrowthLine:    growthLine(req),
	}

	if len(req.TargetAllocation) > 0 {
		payload.DriftBars = driftBars(weights, req.TargetAllocation)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode charts payload: %w", err)
	}
	return out, nil
}

func pieSlices(weights map[string]float64) []models.PieSlice {
	classes := sortedClasses(weights)
	slices := make([]models.PieSlice, 0, len(classes))
	for _, class := range classes {
		slices = append(slices, models.PieSlice{Label: class, Value: round4(weights[class])})
	}
	return slices
}

func driftBars(weights, target map[string]float64) []models.BarPoint {
	drift := driftAgainstTarget(weights, target)
	classes := sortedClasses(drift)
	bars := make([]models.BarPoint, 0, len(classes))
	for _, class := range classes {
		bars = append(bars, models.BarPoint{Label: class, Value: drift[class]})
	}
	return bars
}

func growthLine(req *models.AnalysisRequest) []models.LinePoint {
	years := defaultGrowthYears
	if req.CurrentAge > 0 && req.RetirementAge > req.CurrentAge {
		years = req.RetirementAge - req.CurrentAge
	}
	return projectGrowth(totalValue(req), req.AnnualContribution, req.ExpectedReturn, years)
}

func sortedClasses(m map[string]float64) []string {
	classes := make([]string, 0, len(m))
	for class := range m {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}
