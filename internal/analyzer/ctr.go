package analyzer

import "github.com/FranksOps/serprank/internal/serp"

// Position -> estimated click-through-rate curves, index 0 = position 1.
// Distinct curves exist for SERPs where we own the featured snippet, where
// a competitor owns it, where ads are present, and for mobile. Every curve
// is non-increasing in position.
var (
	ctrDesktop = [20]float64{
		0.316, 0.158, 0.096, 0.072, 0.061, 0.044, 0.030, 0.021, 0.019, 0.016,
		0.010, 0.009, 0.008, 0.007, 0.006, 0.005, 0.004, 0.0035, 0.003, 0.0028,
	}
	ctrMobile = [20]float64{
		0.268, 0.139, 0.087, 0.059, 0.047, 0.035, 0.027, 0.020, 0.017, 0.014,
		0.009, 0.008, 0.007, 0.006, 0.0055, 0.005, 0.004, 0.0035, 0.003, 0.0025,
	}
	// Owning the snippet lifts position 1 well above the organic curve.
	ctrOwnedSnippet = [20]float64{
		0.428, 0.164, 0.098, 0.072, 0.061, 0.044, 0.030, 0.021, 0.019, 0.016,
		0.010, 0.009, 0.008, 0.007, 0.006, 0.005, 0.004, 0.0035, 0.003, 0.0028,
	}
	// A competitor-owned snippet siphons clicks from every position.
	ctrCompetitorSnippet = [20]float64{
		0.194, 0.112, 0.074, 0.055, 0.045, 0.034, 0.024, 0.017, 0.015, 0.012,
		0.008, 0.007, 0.006, 0.0055, 0.005, 0.0045, 0.0035, 0.003, 0.0025, 0.002,
	}
	// Ads above the fold depress organic CTR across the board.
	ctrAdsPresent = [20]float64{
		0.224, 0.127, 0.081, 0.062, 0.051, 0.038, 0.026, 0.018, 0.016, 0.013,
		0.009, 0.008, 0.007, 0.006, 0.0055, 0.005, 0.004, 0.0032, 0.0028, 0.0024,
	}
)

const ctrBeyondPage2 = 0.001

// EstimateCTR returns the expected click-through rate for the given
// position under the given SERP conditions. Curve precedence: owned
// snippet, competitor snippet, ads present, then the device base curve.
func EstimateCTR(position int, device serp.Device, ownsSnippet, competitorOwnsSnippet, adsPresent bool) float64 {
	if position < 1 {
		return 0
	}
	if position > 20 {
		return ctrBeyondPage2
	}

	var curve *[20]float64
	switch {
	case ownsSnippet:
		curve = &ctrOwnedSnippet
	case competitorOwnsSnippet:
		curve = &ctrCompetitorSnippet
	case adsPresent:
		curve = &ctrAdsPresent
	case device == serp.DeviceMobile:
		curve = &ctrMobile
	default:
		curve = &ctrDesktop
	}
	return curve[position-1]
}
