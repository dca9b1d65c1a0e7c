package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/planvista/planvista/pkg/models"
)

// BuildSummary aggregates the producer payloads into the summary slot. It
// expects the report and retirement slots to be present; the charts payload
// carries no numbers the summary needs.
func BuildSummary(results map[models.ResultSlot]json.RawMessage) (json.RawMessage, error) {
	reportRaw, ok := results[models.SlotReport]
	if !ok {
		return nil, fmt.Errorf("summary requires the report payload")
	}
	retirementRaw, ok := results[models.SlotRetirement]
	if !ok {
		return nil, fmt.Errorf("summary requires the retirement projection payload")
	}

	var report models.ReportPayload
	if err := json.Unmarshal(reportRaw, &report); err != nil {
		return nil, fmt.Errorf("decode report payload: %w", err)
	}
	var retirement models.RetirementPayload
	if err := json.Unmarshal(retirementRaw, &retirement); err != nil {
		return nil, fmt.Errorf("decode retirement payload: %w", err)
	}

	payload := models.SummaryPayload{
		TotalValue:        report.TotalValue,
		ValueAtRetirement: retirement.ValueAtRetirement,
		ReadinessRatio:    retirement.ReadinessRatio,
		OnTrack:           retirement.OnTrack,
		ActionCount:       len(report.Actions),
	}
	payload.Headline = headline(&report, &retirement)

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode summary payload: %w", err)
	}
	return out, nil
}

func headline(report *models.ReportPayload, retirement *models.RetirementPayload) string {
	track := "on track for retirement"
	if !retirement.OnTrack {
		track = "needs attention to stay funded through retirement"
	}
	h := fmt.Sprintf("Portfolio of %.2f is %s", report.TotalValue, track)
	if len(report.Actions) > 0 {
		h += fmt.Sprintf("; %d rebalance action(s) suggested", len(report.Actions))
	}
	return h
}
