package ai

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/man0l/real-estate-analyzer/models"
)

var (
	reHasAct16   = regexp.MustCompile(`(?i)HAS_ACT16:\s*(true|false)`)
	rePlanDate   = regexp.MustCompile(`(?i)PLAN_DATE:\s*(\d{4}-\d{2}-\d{2}|\d{4}-\d{2}|none)`)
	reDetails    = regexp.MustCompile(`(?i)DETAILS:\s*(.+?)(?:\n|$)`)
	reRenovated  = regexp.MustCompile(`(?i)RENOVATED:\s*(true|false)`)
	reFurnished  = regexp.MustCompile(`(?i)FURNISHED:\s*(true|false)`)
	reInterior   = regexp.MustCompile(`(?i)INTERIOR:\s*(true|false)`)
	reConfidence = regexp.MustCompile(`(?i)CONFIDENCE:\s*(high|medium|low)`)
)

// ParseBuildingStatus decodes a building-status response. The expected
// shape is a line-oriented "LABEL: value" format, but models routinely
// merge or garble lines, so each field also has an independent regex
// fallback. Missing fields keep their zero value; only a blank response is
// an error.
func ParseBuildingStatus(text string) (models.BuildingStatus, error) {
	var status models.BuildingStatus
	if strings.TrimSpace(text) == "" {
		return status, ErrEmptyResponse
	}

	hasAct16, dateStr, details := scanStatusLines(text)

	if hasAct16 == "" {
		if m := reHasAct16.FindStringSubmatch(text); m != nil {
			hasAct16 = m[1]
		}
	}
	if dateStr == "" {
		if m := rePlanDate.FindStringSubmatch(text); m != nil {
			dateStr = m[1]
		}
	}
	if details == "" {
		if m := reDetails.FindStringSubmatch(text); m != nil {
			details = m[1]
		}
	}

	status.HasAct16 = strings.EqualFold(hasAct16, "true")
	status.Details = strings.TrimSpace(details)
	if dateStr != "" && !strings.EqualFold(dateStr, "none") {
		if parsed, err := normalizeDate(dateStr); err == nil {
			status.PlanDate = &parsed
		}
	}

	return status, nil
}

// scanStatusLines is the strict first pass over well-formed label lines.
func scanStatusLines(text string) (hasAct16, dateStr, details string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "HAS_ACT16:"):
			value := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "HAS_ACT16:")))
			if value == "true" || value == "false" {
				hasAct16 = value
			}
		case strings.HasPrefix(line, "PLAN_DATE:"):
			dateStr = strings.TrimSpace(strings.TrimPrefix(line, "PLAN_DATE:"))
		case strings.HasPrefix(line, "DETAILS:"):
			details = strings.TrimSpace(strings.TrimPrefix(line, "DETAILS:"))
		}
	}
	return hasAct16, dateStr, details
}

// normalizeDate completes and clamps a model-produced date: a year-month
// value gets day 15, an impossible month is capped at 12 and an impossible
// day at 28 before the final parse.
func normalizeDate(dateStr string) (time.Time, error) {
	parts := strings.Split(dateStr, "-")
	if len(parts) == 2 {
		parts = append(parts, "15")
	}
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("ai: unrecognized date %q", dateStr)
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("ai: unrecognized date %q", dateStr)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("ai: unrecognized date %q", dateStr)
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("ai: unrecognized date %q", dateStr)
	}

	if month > 12 {
		month = 12
	}
	if day > 28 {
		day = 28
	}

	return time.Parse("2006-01-02", fmt.Sprintf("%04d-%02d-%02d", year, month, day))
}

// ParseImageAnalysis decodes a vision response about the listing's first
// photo. Confidence defaults to low so an unlabeled response is never
// trusted.
func ParseImageAnalysis(text string) (models.ImageAnalysis, error) {
	analysis := models.ImageAnalysis{Confidence: "low"}
	if strings.TrimSpace(text) == "" {
		return analysis, ErrEmptyResponse
	}

	if m := reRenovated.FindStringSubmatch(text); m != nil {
		analysis.Renovated = strings.EqualFold(m[1], "true")
	}
	if m := reFurnished.FindStringSubmatch(text); m != nil {
		analysis.Furnished = strings.EqualFold(m[1], "true")
	}
	if m := reInterior.FindStringSubmatch(text); m != nil {
		analysis.Interior = strings.EqualFold(m[1], "true")
	}
	if m := reConfidence.FindStringSubmatch(text); m != nil {
		analysis.Confidence = strings.ToLower(m[1])
	}

	return analysis, nil
}
