package tools

import (
	"fmt"

	"github.com/deepresearch/engine/internal/session"
	"github.com/deepresearch/engine/internal/toolerr"
)

// PlanStepInput is one step as submitted by the orchestrator LLM, before
// a stepId has been assigned.
type PlanStepInput struct {
	Description string `json:"description"`
}

// PlanResult is the shape returned to the caller after generate_plan or
// update_plan.
type PlanResult struct {
	Steps []session.PlanStep `json:"steps"`
}

// GeneratePlan replaces the session's plan wholesale with the given steps,
// each starting pending with no assigned agents.
func GeneratePlan(d *Deps, steps []PlanStepInput) (PlanResult, error) {
	if len(steps) == 0 {
		return PlanResult{}, toolerr.New(toolerr.ValidationFailed, "plan must contain at least one step", "provide one or more step descriptions")
	}
	built := make([]session.PlanStep, 0, len(steps))
	for i, st := range steps {
		if st.Description == "" {
			return PlanResult{}, toolerr.New(toolerr.ValidationFailed, fmt.Sprintf("step %d is missing a description", i+1), "give every step a non-empty description")
		}
		built = append(built, session.PlanStep{
			StepID:      fmt.Sprintf("step-%d", i+1),
			Description: st.Description,
			Status:      session.PlanStepPending,
			Order:       i,
		})
	}
	if err := d.Store.UpdatePlan(d.SessionID, built, "replace"); err != nil {
		return PlanResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
	}
	return PlanResult{Steps: built}, nil
}

// UpdatePlanStep mutates one existing plan step's status and/or agent
// associations, appending it if stepID is not yet known.
func UpdatePlanStep(d *Deps, stepID, description, status string, agentIDs []string) (PlanResult, error) {
	if stepID == "" {
		return PlanResult{}, toolerr.New(toolerr.ValidationFailed, "stepId must not be empty", "reference a stepId returned by generate_plan")
	}
	st := session.PlanStep{StepID: stepID, Description: description, AgentIDs: agentIDs}
	switch status {
	case "", string(session.PlanStepPending):
		st.Status = session.PlanStepPending
	case string(session.PlanStepInProgress):
		st.Status = session.PlanStepInProgress
	case string(session.PlanStepCompleted):
		st.Status = session.PlanStepCompleted
	default:
		return PlanResult{}, toolerr.New(toolerr.ValidationFailed, "unknown plan step status: "+status, "use pending, in_progress, or completed")
	}
	if err := d.Store.UpdatePlan(d.SessionID, []session.PlanStep{st}, "merge"); err != nil {
		return PlanResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
	}
	sess, err := d.Store.Get(d.SessionID)
	if err != nil {
		return PlanResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
	}
	snapshot := make([]session.PlanStep, 0, len(sess.PlanOrder))
	for _, id := range sess.PlanOrder {
		snapshot = append(snapshot, *sess.PlanSteps[id])
	}
	return PlanResult{Steps: snapshot}, nil
}
