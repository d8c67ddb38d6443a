package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PlanStep is one entry in the model's working plan.
type PlanStep struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"` // "pending", "in_progress", "done"
}

// CreatePlan lets the model publish and update a step plan for the current
// task. The plan persists as plan.json in the workspace and every update is
// surfaced to the client as a plan event.
type CreatePlan struct{}

func (t *CreatePlan) Name() string { return "create_plan" }

// Workflow marks create_plan as a workflow tool in result envelopes.
func (t *CreatePlan) Workflow() {}
func (t *CreatePlan) Description() string {
	return "Create or update the step-by-step plan for the current task. Call again with updated statuses as work progresses."
}
func (t *CreatePlan) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"steps": map[string]interface{}{
				"type":        "array",
				"description": "Ordered plan steps",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id":     map[string]interface{}{"type": "integer"},
						"title":  map[string]interface{}{"type": "string"},
						"status": map[string]interface{}{"type": "string", "enum": []string{"pending", "in_progress", "done"}},
					},
				},
			},
		},
		"required": []string{"steps"},
	}
}

func (t *CreatePlan) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawSteps, ok := args["steps"].([]interface{})
	if !ok || len(rawSteps) == 0 {
		return ErrorResult(KindParameterValidation, "steps must be a non-empty array")
	}

	steps := make([]PlanStep, 0, len(rawSteps))
	for i, raw := range rawSteps {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return ErrorResult(KindParameterValidation, fmt.Sprintf("step %d is not an object", i))
		}
		step := PlanStep{ID: i + 1, Status: "pending"}
		if id, ok := m["id"].(float64); ok {
			step.ID = int(id)
		}
		step.Title, _ = m["title"].(string)
		if step.Title == "" {
			return ErrorResult(KindParameterValidation, fmt.Sprintf("step %d has no title", i))
		}
		if status, ok := m["status"].(string); ok && status != "" {
			switch status {
			case "pending", "in_progress", "done":
				step.Status = status
			default:
				return ErrorResult(KindParameterValidation, fmt.Sprintf("step %d has invalid status %q", i, status))
			}
		}
		steps = append(steps, step)
	}

	doc, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return ErrorResult(KindToolExecution, fmt.Sprintf("encode plan: %v", err))
	}

	if dir := OutputDirFromCtx(ctx); dir != "" {
		if err := os.WriteFile(filepath.Join(dir, "plan.json"), doc, 0644); err != nil {
			return ErrorResult(KindToolExecution, fmt.Sprintf("persist plan: %v", err))
		}
	}

	compact, _ := json.Marshal(steps)
	res := NewResult(fmt.Sprintf("plan saved with %d steps", len(steps)))
	res.Plan = compact
	return res
}
