package capture

import (
	"slices"
	"testing"
)

func TestParseTuning(t *testing.T) {
	tests := []struct {
		priority, affinity string
		want               Tuning
		wantErr            bool
	}{
		{"normal", "all", Tuning{}, false},
		{"", "", Tuning{}, false},
		{"high", "1", Tuning{Nice: -10, Renice: true, CPUs: []int{1}}, false},
		{"realtime", "0,1,2", Tuning{Nice: -20, Renice: true, CPUs: []int{0, 1, 2}}, false},
		{"tempo real", "all", Tuning{Nice: -20, Renice: true}, false},
		{"urgent", "all", Tuning{}, true},
		{"normal", "-1", Tuning{}, true},
		{"normal", "0,,1", Tuning{}, true},
	}
	for _, tt := range tests {
		got, err := ParseTuning(tt.priority, tt.affinity)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTuning(%q, %q) err = %v", tt.priority, tt.affinity, err)
			continue
		}
		if got.Nice != tt.want.Nice || got.Renice != tt.want.Renice || !slices.Equal(got.CPUs, tt.want.CPUs) {
			t.Errorf("ParseTuning(%q, %q) = %+v, want %+v", tt.priority, tt.affinity, got, tt.want)
		}
	}
	if !(Tuning{}).IsZero() || (Tuning{CPUs: []int{0}}).IsZero() {
		t.Error("IsZero wrong")
	}
}
