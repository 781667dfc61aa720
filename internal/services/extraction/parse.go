package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/services/verification"
	"pop-reconciliation-backend/internal/statement"
)

const (
	DefaultBankName = "Unknown"
	FailedBankName  = "Processing Failed"
	FailedReference = "Error"
	maxConfidence   = 100
)

// modelOutput accepts whatever JSON types the model chose for each field.
type modelOutput struct {
	Amount            json.RawMessage `json:"amount"`
	Date              json.RawMessage `json:"date"`
	Reference         json.RawMessage `json:"reference"`
	BankName          json.RawMessage `json:"bankName"`
	PayerName         json.RawMessage `json:"payerName"`
	Confidence        json.RawMessage `json:"confidence"`
	FontMismatch      json.RawMessage `json:"fontMismatch"`
	LayoutIssues      json.RawMessage `json:"layoutIssues"`
	DigitalEdits      json.RawMessage `json:"digitalEdits"`
	VisualConfidence  json.RawMessage `json:"visualConfidence"`
	DetectedManips    json.RawMessage `json:"detectedManips"`
	DetectedAnomalies json.RawMessage `json:"detectedAnomalies"`
}

// Parse reads the model's free-text answer. Code fences and prose around the
// JSON object are ignored; missing or mistyped fields take their defaults.
func Parse(text string) (verification.ExtractionResult, error) {
	obj, ok := jsonObject(stripFences(text))
	if !ok {
		return verification.ExtractionResult{}, fmt.Errorf("no JSON object in model output")
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return verification.ExtractionResult{}, fmt.Errorf("parse model JSON: %w", err)
	}

	res := Empty()
	e := &res.Extraction

	if amount, ok := rawNumber(out.Amount); ok {
		e.Amount = amount
	}
	if s := rawString(out.Date); s != "" {
		if d, err := models.ParseDate(s); err == nil {
			e.Date = &d
		}
	}
	e.Reference = rawString(out.Reference)
	if bank := rawString(out.BankName); bank != "" {
		e.BankName = bank
	}
	e.PayerName = rawString(out.PayerName)

	confidence, hasConfidence := rawFloat(out.Confidence)
	if hasConfidence {
		e.Confidence = clamp(confidence)
	}

	v := &res.Visual
	v.FontMismatch = rawBool(out.FontMismatch)
	v.LayoutIssues = rawBool(out.LayoutIssues)
	v.DigitalEdits = rawBool(out.DigitalEdits)
	if vc, ok := rawFloat(out.VisualConfidence); ok {
		v.VisualConfidence = clamp(vc)
	} else {
		v.VisualConfidence = e.Confidence
	}
	if manips := rawStrings(out.DetectedManips); len(manips) > 0 {
		v.DetectedAnomalies = manips
	} else if anomalies := rawStrings(out.DetectedAnomalies); len(anomalies) > 0 {
		v.DetectedAnomalies = anomalies
	}

	return res, nil
}

// Empty is the result for a model answer that could not be read.
func Empty() verification.ExtractionResult {
	return verification.ExtractionResult{
		Extraction: models.Extraction{
			Amount:   decimal.Zero,
			BankName: DefaultBankName,
		},
		Visual: models.VisualSignals{
			DetectedAnomalies: []string{},
		},
	}
}

// Fallback is the result written when the model could not be called at all.
func Fallback() verification.ExtractionResult {
	res := Empty()
	res.Extraction.Reference = FailedReference
	res.Extraction.BankName = FailedBankName
	return res
}

func stripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		}
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	return cleaned
}

func jsonObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func isNull(raw json.RawMessage) bool {
	t := strings.TrimSpace(string(raw))
	return t == "" || t == "null"
}

func rawString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func rawNumber(raw json.RawMessage) (decimal.Decimal, bool) {
	if isNull(raw) {
		return decimal.Zero, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
		d, err := statement.CleanAmount(s)
		return d, err == nil
	}
	return decimal.Zero, false
}

func rawFloat(raw json.RawMessage) (float64, bool) {
	d, ok := rawNumber(raw)
	if !ok {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

func rawBool(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	switch strings.ToLower(rawString(raw)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

func rawStrings(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if s := rawString(raw); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range items {
		if s := rawString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > maxConfidence:
		return maxConfidence
	default:
		return v
	}
}
