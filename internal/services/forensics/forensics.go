// Package forensics derives authenticity signals from the image file itself:
// a content hash for duplicate lookup and EXIF metadata checks.
package forensics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rwcarlsen/goexif/exif"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/services/verification"
)

const (
	ScoreDuplicate = 100
	ScoreAnomaly   = 30

	FlagMissingOriginalDate = "Missing DateTimeOriginal (possible screenshot/edit)"
)

var editingSoftware = []string{"photoshop", "gimp", "pixelmator", "paint.net", "canva"}

const exifTimeLayout = "2006:01:02 15:04:05"

// DuplicateFinder looks up another payment carrying the same image hash.
type DuplicateFinder interface {
	FindByImageHash(ctx context.Context, hash string, excludeID uuid.UUID) (*models.Payment, error)
}

// Hash is the hex SHA-256 of the image bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type Scorer struct {
	finder DuplicateFinder
}

func NewScorer(finder DuplicateFinder) *Scorer {
	return &Scorer{finder: finder}
}

// Analyze scores image for the payment paymentID. It does not write anything;
// the result is handed to the state machine by the caller.
func (s *Scorer) Analyze(ctx context.Context, paymentID uuid.UUID, image []byte) (verification.ForensicsResult, error) {
	hash := Hash(image)

	dup, err := s.finder.FindByImageHash(ctx, hash, paymentID)
	if err != nil {
		return verification.ForensicsResult{}, fmt.Errorf("duplicate lookup: %w", err)
	}
	var duplicateOf *uuid.UUID
	if dup != nil {
		duplicateOf = &dup.ID
	}

	meta, ok := readMetadata(image)
	return assess(hash, meta, ok, duplicateOf), nil
}

type metadata struct {
	Software      string
	Make          string
	OriginalDate  *time.Time
	DigitizedDate *time.Time
}

// readMetadata reports false when the image carries no decodable EXIF block.
func readMetadata(image []byte) (metadata, bool) {
	var meta metadata
	x, err := exif.Decode(bytes.NewReader(image))
	if err != nil {
		return meta, false
	}
	meta.Software = stringTag(x, exif.Software)
	meta.Make = stringTag(x, exif.Make)
	meta.OriginalDate = timeTag(x, exif.DateTimeOriginal)
	meta.DigitizedDate = timeTag(x, exif.DateTimeDigitized)
	return meta, true
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	v, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(v, "\x00"))
}

func timeTag(x *exif.Exif, name exif.FieldName) *time.Time {
	v := stringTag(x, name)
	if v == "" {
		return nil
	}
	t, err := time.ParseInLocation(exifTimeLayout, v, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func assess(hash string, meta metadata, hasExif bool, duplicateOf *uuid.UUID) verification.ForensicsResult {
	flags := []string{}
	edited := false

	if hasExif {
		if meta.Software != "" && isEditingSoftware(meta.Software) {
			flags = append(flags, "Edited with software: "+meta.Software)
			edited = true
		}
		if meta.OriginalDate == nil {
			flags = append(flags, FlagMissingOriginalDate)
		}
	}
	if duplicateOf != nil {
		flags = append(flags, fmt.Sprintf("Duplicate image detected (Payment ID: %s)", duplicateOf.String()))
	}

	score := 0
	explanation := "No forensic anomalies detected."
	switch {
	case duplicateOf != nil:
		score = ScoreDuplicate
		explanation = "Duplicate submission detected."
	case len(flags) > 0:
		score = ScoreAnomaly
		explanation = "Forensic anomalies detected."
	}

	return verification.ForensicsResult{
		ImageHash: hash,
		Forensics: models.Forensics{
			Software:      meta.Software,
			OriginalDate:  meta.OriginalDate,
			DigitizedDate: meta.DigitizedDate,
			IsEdited:      edited,
			// Heuristic only: no camera make usually means a screen capture.
			IsScreenshot: meta.Make == "",
		},
		Assessment: models.FraudAssessment{
			RiskScore:         &score,
			RiskLevel:         models.RiskLevelForScore(score),
			FlaggedAttributes: flags,
			Explanation:       explanation,
		},
		Duplicate: duplicateOf != nil,
	}
}

func isEditingSoftware(software string) bool {
	lower := strings.ToLower(software)
	for _, s := range editingSoftware {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
