package nisar

import (
	"fmt"
	"strings"
)

func identificationPath(band Band) string {
	return fmt.Sprintf("/science/%s/identification", band)
}

func listOfFrequenciesPath(band Band) string {
	return identificationPath(band) + "/listOfFrequencies"
}

func gcovGridsPath(band Band) string {
	return fmt.Sprintf("/science/%s/GCOV/grids", band)
}

func frequencyGroupPath(band Band, freq string) string {
	return fmt.Sprintf("%s/frequency%s", gcovGridsPath(band), freq)
}

func listOfCovarianceTermsPath(band Band, freq string) string {
	return frequencyGroupPath(band, freq) + "/listOfCovarianceTerms"
}

func xCoordinatesPath(band Band, freq string) string {
	return frequencyGroupPath(band, freq) + "/xCoordinates"
}

func yCoordinatesPath(band Band, freq string) string {
	return frequencyGroupPath(band, freq) + "/yCoordinates"
}

func xCoordinateSpacingPath(band Band, freq string) string {
	return frequencyGroupPath(band, freq) + "/xCoordinateSpacing"
}

func yCoordinateSpacingPath(band Band, freq string) string {
	return frequencyGroupPath(band, freq) + "/yCoordinateSpacing"
}

func projectionPath(band Band, freq string) string {
	return frequencyGroupPath(band, freq) + "/projection"
}

func maskPath(band Band, freq string) string {
	return frequencyGroupPath(band, freq) + "/mask"
}

// bandFromPath reports whether path is rooted under /science/<band>/ for a
// known band name.
func bandFromPath(path string) (Band, bool) {
	const prefix = "/science/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	seg := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		seg = rest[:i]
	}
	switch Band(seg) {
	case BandLSAR:
		return BandLSAR, true
	case BandSSAR:
		return BandSSAR, true
	}
	return "", false
}

// frequencyFromPath matches a path segment of the form "frequencyA" or
// "frequencyB" anywhere under the given band's GCOV grids root.
func frequencyFromPath(path string, band Band) (string, bool) {
	root := gcovGridsPath(band) + "/"
	if !strings.HasPrefix(path, root) {
		return "", false
	}
	rest := path[len(root):]
	seg := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		seg = rest[:i]
	}
	const p = "frequency"
	if !strings.HasPrefix(seg, p) {
		return "", false
	}
	letter := seg[len(p):]
	if letter == "A" || letter == "B" {
		return letter, true
	}
	return "", false
}

// covarianceTermFromPath matches a path's final segment against the
// closed set of known covariance term names.
func covarianceTermFromPath(path string) (string, bool) {
	i := strings.LastIndexByte(path, '/')
	name := path
	if i >= 0 {
		name = path[i+1:]
	}
	for _, term := range KnownCovarianceTerms {
		if name == term {
			return term, true
		}
	}
	return "", false
}
