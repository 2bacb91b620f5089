package workflow

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"nmrauto/internal/queue"
	"nmrauto/internal/spectrometer"
)

func TestSelectAcquisitionTime(t *testing.T) {
	proton := acquisitionTimes["1D EXTENDED+"]
	fluorine := acquisitionTimes["1D FLUORINE+"]
	tests := []struct {
		name       string
		candidates []float64
		repTime    float64
		want       float64
	}{
		{name: "long rep time takes largest", candidates: proton, repTime: 10, want: 6.4},
		{name: "strictly below", candidates: proton, repTime: 3.2, want: 1.6},
		{name: "between values", candidates: proton, repTime: 1, want: 0.8},
		{name: "too short falls back to smallest", candidates: proton, repTime: 0.2, want: 0.4},
		{name: "fluorine", candidates: fluorine, repTime: 2, want: 1.64},
		{name: "no candidates", candidates: nil, repTime: 2, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectAcquisitionTime(tt.candidates, tt.repTime); got != tt.want {
				t.Fatalf("SelectAcquisitionTime(%v) = %v, want %v", tt.repTime, got, tt.want)
			}
		})
	}
}

func TestBuildMeasurementResolvesAlias(t *testing.T) {
	sample := &queue.Sample{
		Name:     "ethanol",
		Protocol: "1D PROTON+",
		Scans:    16,
		RepTime:  10,
		Solvent:  "CDCl3",
		Comment:  "batch 7",
	}
	got, err := BuildMeasurement(sample)
	if err != nil {
		t.Fatalf("BuildMeasurement: %v", err)
	}
	want := spectrometer.Measurement{
		Name:     "ethanol",
		Protocol: "1D EXTENDED+",
		Solvent:  "CDCl3",
		Comment:  "batch 7",
		Options: []spectrometer.Option{
			{Name: "PulseAngle", Value: "90"},
			{Name: "Number", Value: "16"},
			{Name: "RepetitionTime", Value: "10"},
			{Name: "AcquisitionTime", Value: "6.4"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("measurement mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildMeasurementRejectsUnknownProtocol(t *testing.T) {
	if _, err := BuildMeasurement(&queue.Sample{Name: "x", Protocol: "2D COSY"}); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}
