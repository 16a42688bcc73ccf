package domain

// FeatureVector is the ordered numeric input of one evaluation.
// Its length is fixed by the loaded models (31 in the reference deployment).
type FeatureVector []float64

// EnsembleMember is one trained probabilistic classifier of the ensemble.
// Implementations must be safe for concurrent read-only use.
type EnsembleMember interface {
	// Probability returns the probability of the positive (fraud) class.
	Probability(x FeatureVector) (float64, error)

	// NumFeatures is the input dimensionality the member was trained on.
	NumFeatures() int
}

// AnomalyModel is an optional novelty detector trained on legitimate traffic.
type AnomalyModel interface {
	// DecisionScore returns the raw score; its sign convention is Polarity.
	DecisionScore(x FeatureVector) (float64, error)

	NumFeatures() int

	// Polarity documents how DecisionScore must be compared to a threshold.
	Polarity() ScorePolarity
}

// ScorePolarity pins the sign convention of an anomaly score.
type ScorePolarity string

const (
	// PolarityHigherIsAnomalous flags scores strictly above the threshold.
	PolarityHigherIsAnomalous ScorePolarity = "higher_is_anomalous"

	// PolarityHigherIsNormal flags scores strictly below the threshold.
	// Isolation forest decision_function follows this convention.
	PolarityHigherIsNormal ScorePolarity = "higher_is_normal"
)

// Valid reports whether p is a known polarity.
func (p ScorePolarity) Valid() bool {
	return p == PolarityHigherIsAnomalous || p == PolarityHigherIsNormal
}

// DecisionState is the routing outcome returned to the caller.
type DecisionState string

const (
	DecisionApprove        DecisionState = "APPROVE"
	DecisionStepUpAuth     DecisionState = "STEP_UP_AUTH"
	DecisionEscalateInvest DecisionState = "ESCALATE_INVEST"
	DecisionAbstain        DecisionState = "ABSTAIN"
	DecisionDecline        DecisionState = "DECLINE"

	// DecisionManualReview only appears under the triage view.
	DecisionManualReview DecisionState = "MANUAL_REVIEW"
)

// CanonicalDecisions lists the five states the router can produce.
func CanonicalDecisions() []DecisionState {
	return []DecisionState{
		DecisionApprove,
		DecisionStepUpAuth,
		DecisionEscalateInvest,
		DecisionAbstain,
		DecisionDecline,
	}
}

// RequiresHandling reports whether the decision sends the transaction for
// further handling (step-up, investigation, abstention or manual review).
func (d DecisionState) RequiresHandling() bool {
	switch d {
	case DecisionStepUpAuth, DecisionEscalateInvest, DecisionAbstain, DecisionManualReview:
		return true
	default:
		return false
	}
}

// DecisionView selects how canonical decisions are labelled in results.
type DecisionView string

const (
	// ViewCanonical reports the five-state decision unchanged.
	ViewCanonical DecisionView = "canonical"

	// ViewTriage collapses every handling state into MANUAL_REVIEW,
	// giving the APPROVE / MANUAL_REVIEW / DECLINE routing.
	ViewTriage DecisionView = "triage"
)

// Valid reports whether v is a known view.
func (v DecisionView) Valid() bool {
	return v == ViewCanonical || v == ViewTriage
}

// Label maps a canonical decision onto this view.
func (v DecisionView) Label(d DecisionState) DecisionState {
	if v == ViewTriage && d.RequiresHandling() {
		return DecisionManualReview
	}
	return d
}

// RiskTier is a coarse ordinal bucket derived from the point estimate only.
type RiskTier string

const (
	TierLow    RiskTier = "low_risk"
	TierMedium RiskTier = "medium_risk"
	TierHigh   RiskTier = "high_risk"
)

// Severity orders tiers from low (0) to high (2).
func (t RiskTier) Severity() int {
	switch t {
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}
