package utils

import "testing"

func TestURLSetAdd(t *testing.T) {
	s := NewURLSet()

	if !s.Add("1a234") {
		t.Error("first Add should return true")
	}
	if s.Add("1a234") {
		t.Error("second Add of same value should return false")
	}
	if !s.Contains("1a234") {
		t.Error("Contains should report added value")
	}
	if s.Contains("1b000") {
		t.Error("Contains should not report missing value")
	}
	if s.Size() != 1 {
		t.Errorf("Size = %d; want 1", s.Size())
	}
}
