package ai

import (
	"errors"
	"testing"
	"time"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseBuildingStatus(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantAct16   bool
		wantDate    *time.Time
		wantDetails string
	}{
		{
			name:        "planned completion",
			text:        "HAS_ACT16: false\nPLAN_DATE: 2025-03-15\nSTATUS: planned\nDETAILS: expected March 2025",
			wantAct16:   false,
			wantDate:    ptr(date("2025-03-15")),
			wantDetails: "expected March 2025",
		},
		{
			name:        "completed no date",
			text:        "HAS_ACT16: true\nPLAN_DATE: none\nSTATUS: completed\nDETAILS: разрешение за ползване",
			wantAct16:   true,
			wantDate:    nil,
			wantDetails: "разрешение за ползване",
		},
		{
			name:      "impossible date clamped",
			text:      "HAS_ACT16: false\nPLAN_DATE: 2025-13-30\nSTATUS: planned\nDETAILS: скоро",
			wantAct16: false,
			wantDate:  ptr(date("2025-12-28")),
		},
		{
			name:      "year-month completed to mid-month",
			text:      "HAS_ACT16: false\nPLAN_DATE: 2025-06\nSTATUS: in_progress\nDETAILS: лято 2025",
			wantAct16: false,
			wantDate:  ptr(date("2025-06-15")),
		},
		{
			name:        "merged lines fall back to regex",
			text:        "Отговор: HAS_ACT16: true PLAN_DATE: none DETAILS: сградата е завършена",
			wantAct16:   true,
			wantDate:    nil,
			wantDetails: "сградата е завършена",
		},
		{
			name:      "labels absent leave defaults",
			text:      "Не мога да преценя от това описание.",
			wantAct16: false,
			wantDate:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBuildingStatus(tt.text)
			if err != nil {
				t.Fatalf("ParseBuildingStatus: %v", err)
			}
			if got.HasAct16 != tt.wantAct16 {
				t.Errorf("HasAct16 = %v; want %v", got.HasAct16, tt.wantAct16)
			}
			switch {
			case tt.wantDate == nil && got.PlanDate != nil:
				t.Errorf("PlanDate = %v; want nil", got.PlanDate)
			case tt.wantDate != nil && got.PlanDate == nil:
				t.Errorf("PlanDate = nil; want %v", tt.wantDate)
			case tt.wantDate != nil && !got.PlanDate.Equal(*tt.wantDate):
				t.Errorf("PlanDate = %v; want %v", got.PlanDate, tt.wantDate)
			}
			if tt.wantDetails != "" && got.Details != tt.wantDetails {
				t.Errorf("Details = %q; want %q", got.Details, tt.wantDetails)
			}
		})
	}
}

func TestParseBuildingStatusEmptyResponse(t *testing.T) {
	_, err := ParseBuildingStatus("   \n  ")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v; want ErrEmptyResponse", err)
	}
}

func TestParseImageAnalysis(t *testing.T) {
	tests := []struct {
		name string
		text string
		want struct {
			renovated, furnished, interior bool
			confidence                     string
		}
	}{
		{
			name: "full response",
			text: "RENOVATED: true\nFURNISHED: false\nINTERIOR: true\nCONFIDENCE: high",
			want: struct {
				renovated, furnished, interior bool
				confidence                     string
			}{true, false, true, "high"},
		},
		{
			name: "missing labels default to low confidence",
			text: "The photo is too dark to tell.",
			want: struct {
				renovated, furnished, interior bool
				confidence                     string
			}{false, false, false, "low"},
		},
		{
			name: "mixed case tolerated",
			text: "renovated: TRUE furnished: True confidence: Medium",
			want: struct {
				renovated, furnished, interior bool
				confidence                     string
			}{true, true, false, "medium"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseImageAnalysis(tt.text)
			if err != nil {
				t.Fatalf("ParseImageAnalysis: %v", err)
			}
			if got.Renovated != tt.want.renovated || got.Furnished != tt.want.furnished ||
				got.Interior != tt.want.interior || got.Confidence != tt.want.confidence {
				t.Errorf("got %+v; want %+v", got, tt.want)
			}
		})
	}
}

func TestParseImageAnalysisEmptyResponse(t *testing.T) {
	_, err := ParseImageAnalysis("")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v; want ErrEmptyResponse", err)
	}
}

func ptr[T any](v T) *T { return &v }
