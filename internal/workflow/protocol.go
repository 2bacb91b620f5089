package workflow

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"nmrauto/internal/queue"
	"nmrauto/internal/spectrometer"
)

// protocolAliases maps dashboard protocol names to the spectrometer's.
var protocolAliases = map[string]string{
	"1D PROTON+": "1D EXTENDED+",
}

// acquisitionTimes lists the acquisition times in seconds each protocol
// accepts.
var acquisitionTimes = map[string][]float64{
	"1D EXTENDED+": {0.4, 0.8, 1.6, 3.2, 6.4},
	"1D FLUORINE+": {0.32, 0.64, 1.64, 3.2},
}

// SelectAcquisitionTime returns the largest candidate strictly below
// repTime, or the smallest candidate when none is.
func SelectAcquisitionTime(candidates []float64, repTime float64) float64 {
	if len(candidates) == 0 {
		return 0
	}
	sorted := slices.Clone(candidates)
	slices.Sort(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i] < repTime {
			return sorted[i]
		}
	}
	return sorted[0]
}

// SpectrometerProtocol resolves aliases to the name the spectrometer knows.
func SpectrometerProtocol(protocol string) string {
	protocol = strings.TrimSpace(protocol)
	if alias, ok := protocolAliases[protocol]; ok {
		return alias
	}
	return protocol
}

// BuildMeasurement turns a queued sample into a spectrometer request.
func BuildMeasurement(sample *queue.Sample) (spectrometer.Measurement, error) {
	protocol := SpectrometerProtocol(sample.Protocol)
	times, ok := acquisitionTimes[protocol]
	if !ok {
		return spectrometer.Measurement{}, fmt.Errorf("unsupported protocol %q", sample.Protocol)
	}
	scans := sample.Scans
	if scans <= 0 {
		scans = 1
	}
	return spectrometer.Measurement{
		Name:     sample.Name,
		Protocol: protocol,
		Solvent:  sample.Solvent,
		Comment:  sample.Comment,
		Options: []spectrometer.Option{
			{Name: "PulseAngle", Value: "90"},
			{Name: "Number", Value: strconv.Itoa(scans)},
			{Name: "RepetitionTime", Value: spectrometer.FormatFloat(sample.RepTime)},
			{Name: "AcquisitionTime", Value: spectrometer.FormatFloat(SelectAcquisitionTime(times, sample.RepTime))},
		},
	}, nil
}
