// Package guard implements the action-guard protocol: risk-score an
// escalated action, then auto-execute it, suspend it for human sanction, or
// reject it. A supplied sanction is cryptographically bound to the exact
// payload that was reviewed.
package guard

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"opsdesk/pkg/inference"
	"opsdesk/pkg/tenant"
)

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskSafe          RiskLevel = "safe"
	RiskCaution       RiskLevel = "caution"
	RiskCriticalBlock RiskLevel = "critical-block"
)

// Mitigation is the strategy chosen for an assessed action.
type Mitigation string

const (
	MitigationAutoExecute  Mitigation = "auto-execute"
	MitigationWaitForHuman Mitigation = "wait-for-human"
	MitigationHardReject   Mitigation = "hard-reject"
)

// CodeSanctionMismatch is the security code attached to approve-X-execute-Y
// violations.
const CodeSanctionMismatch = "OS-SEC-500"

// ErrSanctionMismatch signals that the sanctioned payload hash does not
// match the content about to execute.
var ErrSanctionMismatch = errors.New("sanction payload hash mismatch")

// charsPerToken approximates tokens from content length.
const charsPerToken = 3.7

// costSurchargeThresholdUSD is the projected cost above which the risk
// score takes a +30 surcharge.
const costSurchargeThresholdUSD = 0.15

// tierPricePer1KTokensUSD prices a tenant's model tier. Unknown tiers are
// priced as standard.
var tierPricePer1KTokensUSD = map[string]float64{
	"economy":  0.0005,
	"standard": 0.002,
	"premium":  0.06,
}

// RiskAssessment is the per-dispatch risk verdict. It is embedded in the
// suspended-action response and never persisted on its own.
type RiskAssessment struct {
	Score              float64    `json:"score"`
	Level              RiskLevel  `json:"level"`
	Mitigation         Mitigation `json:"mitigation"`
	FinancialImpactUSD float64    `json:"financial_impact_usd"`
	EstimatedLatencyMs int64      `json:"estimated_latency_ms"`
	Reason             string     `json:"reason"`
}

// Sanction is a human reviewer's approval of one specific payload hash.
type Sanction struct {
	AdminID             string    `json:"admin_id"`
	SignatureHash       string    `json:"signature_hash"`
	ApprovedPayloadHash string    `json:"approved_payload_hash"`
	GovernanceSeal      string    `json:"governance_seal"`
	At                  time.Time `json:"at"`
}

// Validate checks the fields the approval UI must populate.
func (s Sanction) Validate() error {
	if strings.TrimSpace(s.AdminID) == "" {
		return errors.New("sanction admin identifier is required")
	}
	if strings.TrimSpace(s.SignatureHash) == "" {
		return errors.New("sanction signature hash is required")
	}
	if strings.TrimSpace(s.ApprovedPayloadHash) == "" {
		return errors.New("sanction approved payload hash is required")
	}
	return nil
}

// HashPayload is the integrity hash binding reviewed content to executed
// content. The approval UI hashes what the reviewer saw; the dispatcher
// hashes what it is about to execute.
func HashPayload(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// AssessRisk scores one escalated action from four additive signals: model
// confidence, governance policy, projected inference cost, and a final
// clamp to [0,100].
func AssessRisk(resp inference.Response, gov tenant.Governance, modelTier string) RiskAssessment {
	score := (1 - resp.Confidence) * 100
	reason := "confidence-below-threshold"

	if gov.ManualApprovalRequired {
		score = 100
		reason = "manual-approval-required"
	}

	tokens := math.Ceil(float64(len(resp.Suggested)) / charsPerToken)
	price, ok := tierPricePer1KTokensUSD[strings.TrimSpace(modelTier)]
	if !ok {
		price = tierPricePer1KTokensUSD["standard"]
	}
	cost := tokens / 1000 * price
	if cost > costSurchargeThresholdUSD {
		score += 30
		reason = "projected-cost"
	}

	// A confidence under the tenant's auto-execution floor always routes
	// to a human, even when the composite score alone would not.
	if resp.Confidence < gov.MinAutoExecConfidence && score < 50 {
		score = 50
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	level := RiskSafe
	switch {
	case score > 85:
		level = RiskCriticalBlock
	case score > 45:
		level = RiskCaution
	}

	mitigation := MitigationAutoExecute
	if score > 45 {
		mitigation = MitigationWaitForHuman
	}

	return RiskAssessment{
		Score:              score,
		Level:              level,
		Mitigation:         mitigation,
		FinancialImpactUSD: cost,
		EstimatedLatencyMs: 400 + int64(tokens),
		Reason:             reason,
	}
}

// AuditSanction performs the integrity audit between a presented sanction
// and the payload hash about to execute.
func AuditSanction(sanction Sanction, currentHash string) error {
	if err := sanction.Validate(); err != nil {
		return fmt.Errorf("%s: %w", CodeSanctionMismatch, err)
	}
	if subtle.ConstantTimeCompare([]byte(sanction.ApprovedPayloadHash), []byte(currentHash)) != 1 {
		return fmt.Errorf("%s: %w", CodeSanctionMismatch, ErrSanctionMismatch)
	}
	return nil
}
