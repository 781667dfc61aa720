// Package verification folds the results of the extraction and forensics
// stages into a payment's verification status.
//
// The two stages race with no ordering guarantee. Every fold here is written
// so that applying extraction then forensics reaches the same status, risk
// level and flagged set as forensics then extraction.
package verification

import (
	"fmt"
	"strings"
	"time"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/services/rules"
)

// AutoMatchConfidence is the extraction confidence a payment must exceed to
// be auto-matched.
const AutoMatchConfidence = 80

type ExtractionResult struct {
	Extraction models.Extraction
	Visual     models.VisualSignals
}

type ForensicsResult struct {
	ImageHash  string
	Forensics  models.Forensics
	Assessment models.FraudAssessment
	// Duplicate is set when another payment already carries ImageHash.
	Duplicate bool
}

// ApplyExtraction writes an extraction onto p, runs the rule validator over it
// and recomputes the status.
func ApplyExtraction(p *models.Payment, r ExtractionResult, now time.Time) {
	p.Extraction = r.Extraction
	p.Visual = r.Visual
	if p.Visual.DetectedAnomalies == nil {
		p.Visual.DetectedAnomalies = []string{}
	}
	p.ExtractedAt = &now

	flags := rules.Validate(r.Extraction, now)
	p.RuleFlags = flags
	if len(flags) > 0 {
		p.Fraud.RiskLevel = models.MaxRisk(p.Fraud.RiskLevel, models.RiskMedium)
		p.Fraud.FlaggedAttributes = union(p.Fraud.FlaggedAttributes, flags)
		p.Fraud.Explanation = appendClause(p.Fraud.Explanation,
			fmt.Sprintf("Rules failed: %s.", strings.Join(flags, ", ")))
	}

	if !p.VerificationStatus.Sticky() {
		p.VerificationStatus = derive(p)
	}
}

// ApplyForensics writes a forensic assessment onto p. Its risk level replaces
// the stored one, but a rule escalation recorded by the extraction stage is
// kept as a MEDIUM floor.
func ApplyForensics(p *models.Payment, r ForensicsResult, now time.Time) {
	if r.ImageHash != "" {
		hash := r.ImageHash
		p.ImageHash = &hash
	}
	p.Forensics = r.Forensics
	p.ForensicsAt = &now

	score := 0
	if r.Assessment.RiskScore != nil {
		score = *r.Assessment.RiskScore
	}
	p.Fraud.RiskScore = &score

	level := r.Assessment.RiskLevel
	if level == "" {
		level = models.RiskLevelForScore(score)
	}
	if len(p.RuleFlags) > 0 {
		level = models.MaxRisk(level, models.RiskMedium)
	}
	p.Fraud.RiskLevel = level
	p.Fraud.FlaggedAttributes = union(p.Fraud.FlaggedAttributes, r.Assessment.FlaggedAttributes)
	p.Fraud.Explanation = appendClause(p.Fraud.Explanation, r.Assessment.Explanation)

	if p.VerificationStatus.Sticky() {
		return
	}
	if r.Duplicate {
		p.VerificationStatus = models.StatusFlaggedDuplicate
		return
	}
	p.VerificationStatus = derive(p)
}

// derive computes the status of a payment that is not in a sticky state.
func derive(p *models.Payment) models.VerificationStatus {
	switch {
	case p.Fraud.RiskLevel.AtLeast(models.RiskHigh):
		return models.StatusFlaggedFraud
	case len(p.RuleFlags) > 0:
		return models.StatusManualFlag
	case p.Fraud.RiskLevel == models.RiskLow && p.Extraction.Confidence > AutoMatchConfidence:
		return models.StatusAIMatched
	default:
		return models.StatusManualFlag
	}
}

func union(existing, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, s := range list {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func appendClause(explanation, clause string) string {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return explanation
	}
	if explanation == "" {
		return clause
	}
	return explanation + " " + clause
}
