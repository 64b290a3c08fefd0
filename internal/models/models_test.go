package models

import (
	"testing"
	"time"
)

func TestDailySchedule_ValueAt(t *testing.T) {
	sched := DailySchedule{
		{StartMinute: 0, Value: 1.0},
		{StartMinute: 6 * 60, Value: 1.4},
		{StartMinute: 22 * 60, Value: 0.8},
	}

	cases := []struct {
		hour, minute int
		want         float64
	}{
		{0, 0, 1.0},
		{5, 59, 1.0},
		{6, 0, 1.4},
		{21, 59, 1.4},
		{22, 0, 0.8},
		{23, 59, 0.8},
	}

	for _, c := range cases {
		at := time.Date(2024, 3, 1, c.hour, c.minute, 0, 0, time.UTC)
		if got := sched.ValueAt(at); got != c.want {
			t.Errorf("ValueAt(%02d:%02d) = %v, want %v", c.hour, c.minute, got, c.want)
		}
	}
}

func TestTargetSchedule_At(t *testing.T) {
	sched := TargetSchedule{
		{StartMinute: 0, Min: 100, Max: 120},
		{StartMinute: 8 * 60, Min: 90, Max: 110},
	}

	lo, hi := sched.At(time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC))
	if lo != 100 || hi != 120 {
		t.Errorf("At(07:00) = (%v, %v), want (100, 120)", lo, hi)
	}

	lo, hi = sched.At(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC))
	if lo != 90 || hi != 110 {
		t.Errorf("At(12:30) = (%v, %v), want (90, 110)", lo, hi)
	}
}

func TestPrediction_Extremes(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pred := Prediction{
		{Date: base, Value: 120},
		{Date: base.Add(5 * time.Minute), Value: 95},
		{Date: base.Add(10 * time.Minute), Value: 140},
	}

	if got := pred.EventualGlucose(); got != 140 {
		t.Errorf("EventualGlucose() = %v, want 140", got)
	}
	if got := pred.MinimumGlucose(); got != 95 {
		t.Errorf("MinimumGlucose() = %v, want 95", got)
	}

	var empty Prediction
	if empty.EventualGlucose() != 0 || empty.MinimumGlucose() != 0 {
		t.Error("empty prediction should report zero extremes")
	}
}

func TestTempBasal_Active(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tb := &TempBasal{Start: start, End: start.Add(30 * time.Minute), Rate: 0.8}

	if !tb.Active(start) {
		t.Error("temp basal should be active at its start")
	}
	if !tb.Active(start.Add(29 * time.Minute)) {
		t.Error("temp basal should be active before its end")
	}
	if tb.Active(start.Add(30 * time.Minute)) {
		t.Error("temp basal should not be active at its end")
	}
}

func TestUnitConversion(t *testing.T) {
	mgdl := 180.0
	mmol := ToMmol(mgdl)
	if back := ToMgdl(mmol); back < 179.9 || back > 180.1 {
		t.Errorf("round trip mg/dL -> mmol/L -> mg/dL = %v, want ~180", back)
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	if s.DosingEnabled {
		t.Error("dosing must default to disabled")
	}
	if s.Unit != "mg/dL" {
		t.Errorf("default unit = %q, want mg/dL", s.Unit)
	}
	if s.WatchdogWindowMinutes <= 0 {
		t.Error("watchdog window must default to a positive value")
	}

	clone := s.Clone()
	clone.DosingEnabled = true
	if s.IsDosingEnabled() {
		t.Error("mutating a clone must not affect the original")
	}
}
