package nisar

import (
	"fmt"
	"regexp"
	"strconv"
)

// utmSouthNorthingThreshold is the northing value (meters) above which a
// UTM southern-hemisphere false-northing offset (10^7) is assumed to be in
// effect, per spec §4.5.
const utmSouthNorthingThreshold = 5.5e6

var (
	wkt1EPSGPattern = regexp.MustCompile(`AUTHORITY\s*\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	wkt2EPSGPattern = regexp.MustCompile(`ID\s*\[\s*"EPSG"\s*,\s*(\d+)\s*\]`)
	wkt2CRSPattern  = regexp.MustCompile(`PROJCRS\s*\[`)
)

// resolveProjection determines the EPSG code for one frequency using the
// tiered fallback of spec §4.5: projection dataset scalar, epsg_code
// attribute, embedded WKT (WKT1 AUTHORITY or WKT2 ID/PROJCRS), utm_zone_number
// inference, final WGS84 fallback. Returns the resolved EPSG code, the UTM
// zone if inferred via that path (0 otherwise), and a short source tag for
// logging/tests.
func (r *Resolver) resolveProjection(band Band, freq string, fs *FrequencyStructure) (int, int, string, error) {
	if ds, ok := r.dataset(projectionPath(band, freq)); ok {
		if vals, err := ds.ReadInt64(); err == nil && len(vals) > 0 && vals[0] > 0 {
			return int(vals[0]), 0, "projection-dataset", nil
		}
		if vals, err := ds.ReadFloat64(); err == nil && len(vals) > 0 && vals[0] > 0 {
			return int(vals[0]), 0, "projection-dataset", nil
		}
	}

	if grp, ok := r.groups[frequencyGroupPath(band, freq)]; ok {
		if attr := grp.Attr("epsg_code"); attr != nil {
			if v, err := attr.ReadScalarInt64(); err == nil && v > 0 {
				return int(v), 0, "epsg_code-attribute", nil
			}
		}
		if attr := grp.Attr("spatial_ref"); attr != nil {
			if wkt, err := attr.ReadScalarString(); err == nil && wkt != "" {
				if epsg, ok := epsgFromWKT(wkt); ok {
					source := "wkt1"
					if isWKT2(wkt) {
						source = "wkt2"
					}
					return epsg, 0, source, nil
				}
			}
		}
		if attr := grp.Attr("utm_zone_number"); attr != nil {
			if zone, err := attr.ReadScalarInt64(); err == nil && zone > 0 {
				epsg := utmEPSG(int(zone), utmIsNorth(fs))
				return epsg, int(zone), "utm-zone-inference", nil
			}
		}
	}

	return 4326, 0, "", fmt.Errorf("nisar: no projection, epsg_code, spatial_ref, or utm_zone_number found")
}

func utmIsNorth(fs *FrequencyStructure) bool {
	if !fs.HasBounds {
		return true
	}
	return fs.YMax <= utmSouthNorthingThreshold
}

func utmEPSG(zone int, north bool) int {
	if north {
		return 32600 + zone
	}
	return 32700 + zone
}

// epsgFromWKT extracts an EPSG code from an embedded WKT1 or WKT2 spatial
// reference string. WKT1 encodes it as AUTHORITY["EPSG","<n>"]; WKT2 (which
// may additionally be recognizable by a PROJCRS[...] root node) encodes it
// as ID["EPSG",<n>].
func epsgFromWKT(wkt string) (int, bool) {
	if m := wkt2EPSGPattern.FindStringSubmatch(wkt); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	if m := wkt1EPSGPattern.FindStringSubmatch(wkt); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	return 0, false
}

// isWKT2 reports whether wkt looks like a WKT2 string (PROJCRS root),
// informational only — both WKT1 and WKT2 are parsed by epsgFromWKT.
func isWKT2(wkt string) bool {
	return wkt2CRSPattern.MatchString(wkt)
}
