package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/planvista/planvista/pkg/models"
)

// A retirement pot of 25x annual spending supports a 4% withdrawal rate.
const spendingMultiple = 25.0

// RetirementProducer fills the retirement_projection slot: compound growth of
// the portfolio to retirement age with annual contributions, then a withdrawal
// phase drawing annual spending until the projection horizon.
type RetirementProducer struct{}

func (p *RetirementProducer) Slot() models.ResultSlot { return models.SlotRetirement }

func (p *RetirementProducer) Produce(_ context.Context, job *models.Job) (json.RawMessage, error) {
	req, err := parseRequest(job)
	if err != nil {
		return nil, err
	}
	if req.CurrentAge <= 0 || req.RetirementAge <= 0 {
		return nil, fmt.Errorf("current_age and retirement_age are required for a retirement projection")
	}
	if req.RetirementAge <= req.CurrentAge {
		return nil, fmt.Errorf("retirement_age %d must be greater than current_age %d", req.RetirementAge, req.CurrentAge)
	}

	years := req.RetirementAge - req.CurrentAge
	growth := projectGrowth(totalValue(req), req.AnnualContribution, req.ExpectedReturn, years)
	atRetirement := growth[len(growth)-1].Value

	payload := models.RetirementPayload{
		ValueAtRetirement: atRetirement,
		YearsToRetirement: years,
	}

	if req.AnnualSpending > 0 {
		payload.ReadinessRatio = round4(atRetirement / (spendingMultiple * req.AnnualSpending))
		payload.DepletionAge = depletionAge(atRetirement, req.AnnualSpending, req.ExpectedReturn, req.RetirementAge)
		payload.OnTrack = payload.DepletionAge == 0
	} else {
		// Nothing is withdrawn, so the pot can only grow.
		payload.OnTrack = true
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode retirement payload: %w", err)
	}
	return out, nil
}

// depletionAge simulates the withdrawal phase year by year and returns the age
// at which funds run out, or 0 if they last until the projection end age.
func depletionAge(value, annualSpending, rate float64, retirementAge int) int {
	for age := retirementAge; age <= projectionEndAge; age++ {
		value -= annualSpending
		if value < 0 {
			return age
		}
		value *= 1 + rate
	}
	return 0
}
