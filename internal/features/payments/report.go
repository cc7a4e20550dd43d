package payments

import (
	"strings"
)

// Step — необязательный шаг после зачисления.
type Step string

const (
	StepReceipt        Step = "record_receipt"
	StepReferralBonus  Step = "referral_bonus"
	StepReferralStatus Step = "referral_status"
	StepUSDBreakdown   Step = "usd_breakdown"
	StepNotify         Step = "notify"
)

// StepStatus — чем закончился шаг.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// StepResult — итог одного шага. Err заполнен только у failed.
type StepResult struct {
	Step   Step
	Status StepStatus
	Detail string
	Err    error
}

// CompletionReport собирает итоги необязательных шагов.
// На успех зачисления он не влияет.
type CompletionReport struct {
	Steps []StepResult
}

func (r *CompletionReport) ok(step Step) {
	r.Steps = append(r.Steps, StepResult{Step: step, Status: StepOK})
}

func (r *CompletionReport) skip(step Step, detail string) {
	r.Steps = append(r.Steps, StepResult{Step: step, Status: StepSkipped, Detail: detail})
}

func (r *CompletionReport) fail(step Step, err error) {
	r.Steps = append(r.Steps, StepResult{Step: step, Status: StepFailed, Err: err})
}

// Failed возвращает упавшие шаги.
func (r CompletionReport) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			out = append(out, s)
		}
	}
	return out
}

// OK — все шаги либо прошли, либо пропущены.
func (r CompletionReport) OK() bool {
	return len(r.Failed()) == 0
}

// Get возвращает результат шага.
func (r CompletionReport) Get(step Step) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s, true
		}
	}
	return StepResult{}, false
}

// String — компактная запись для логов: "referral_bonus=ok usd_breakdown=failed".
func (r CompletionReport) String() string {
	parts := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		parts = append(parts, string(s.Step)+"="+string(s.Status))
	}
	return strings.Join(parts, " ")
}
