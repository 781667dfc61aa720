package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type VerificationStatus string

const (
	StatusPending          VerificationStatus = "Pending"
	StatusAnalyzing        VerificationStatus = "Analyzing"
	StatusAIMatched        VerificationStatus = "AI_Matched"
	StatusManualFlag       VerificationStatus = "Manual_Flag"
	StatusBankVerified     VerificationStatus = "Bank_Verified"
	StatusFlaggedFraud     VerificationStatus = "Flagged_Fraud"
	StatusFlaggedDuplicate VerificationStatus = "Flagged_Duplicate"
)

// Sticky statuses are never changed by extraction or forensics updates.
func (s VerificationStatus) Sticky() bool {
	return s == StatusFlaggedDuplicate || s == StatusBankVerified
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels; an unset level ranks below LOW.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// MaxRisk returns the more severe of the two levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RiskLevelForScore maps a 0-100 forensic score onto a level.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score > 80:
		return RiskCritical
	case score > 20:
		return RiskMedium
	default:
		return RiskLow
	}
}

type SourceMetadata struct {
	ChannelID  string    `json:"channel_id"`
	MessageID  string    `json:"message_id" gorm:"index"`
	SenderID   string    `json:"sender_id" gorm:"index"`
	ReceivedAt time.Time `json:"received_at"`
}

type Extraction struct {
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(20,4)"`
	Date       *datatypes.Date `json:"date"`
	Reference  string          `json:"reference"`
	BankName   string          `json:"bank_name"`
	PayerName  string          `json:"payer_name"`
	Confidence float64         `json:"confidence"`
}

type VisualSignals struct {
	FontMismatch      bool                        `json:"font_mismatch"`
	LayoutIssues      bool                        `json:"layout_issues"`
	DigitalEdits      bool                        `json:"digital_edits"`
	VisualConfidence  float64                     `json:"visual_confidence"`
	DetectedAnomalies datatypes.JSONSlice[string] `json:"detected_anomalies"`
}

type Forensics struct {
	Software      string     `json:"software,omitempty"`
	OriginalDate  *time.Time `json:"original_date,omitempty"`
	DigitizedDate *time.Time `json:"digitized_date,omitempty"`
	IsEdited      bool       `json:"is_edited"`
	IsScreenshot  bool       `json:"is_screenshot"`
}

// FraudAssessment is unset while RiskLevel is empty.
type FraudAssessment struct {
	RiskScore         *int                        `json:"risk_score,omitempty"`
	RiskLevel         RiskLevel                   `json:"risk_level,omitempty"`
	FlaggedAttributes datatypes.JSONSlice[string] `json:"flagged_attributes"`
	Explanation       string                      `json:"explanation"`
}

func (f FraudAssessment) Assessed() bool {
	return f.RiskLevel != ""
}

type Payment struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ImageHash *string   `json:"image_hash" gorm:"index"`
	BlobKey   string    `json:"blob_key"`

	Source SourceMetadata `json:"source" gorm:"embedded;embeddedPrefix:source_"`

	Extraction  Extraction    `json:"extraction" gorm:"embedded;embeddedPrefix:extraction_"`
	Visual      VisualSignals `json:"visual" gorm:"embedded;embeddedPrefix:visual_"`
	ExtractedAt *time.Time    `json:"extracted_at"`
	// RuleFlags holds the rule validator output of the extraction stage so the
	// forensics stage can keep the escalation when it writes its own assessment.
	RuleFlags datatypes.JSONSlice[string] `json:"rule_flags"`

	Forensics   Forensics  `json:"forensics" gorm:"embedded;embeddedPrefix:forensics_"`
	ForensicsAt *time.Time `json:"forensics_at"`

	Fraud FraudAssessment `json:"fraud" gorm:"embedded;embeddedPrefix:fraud_"`

	VerificationStatus VerificationStatus `json:"verification_status" gorm:"index"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}
