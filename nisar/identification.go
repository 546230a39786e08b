package nisar

// Identification populates an IdentificationMetadata from band's
// identification group. Every field is independent and best-effort: a
// missing or unreadable dataset simply leaves its field at the zero value.
func (r *Resolver) Identification(band Band) (*IdentificationMetadata, error) {
	base := identificationPath(band)
	meta := &IdentificationMetadata{}

	stringFields := []struct {
		path string
		set  func(string)
	}{
		{base + "/missionId", func(v string) { meta.MissionID = v }},
		{base + "/orbitPassDirection", func(v string) { meta.OrbitPassDirection = v }},
		{base + "/processingLevel", func(v string) { meta.ProcessingLevel = v }},
		{base + "/softwareVersion", func(v string) { meta.SoftwareVersion = v }},
		{base + "/zeroDopplerStartTime", func(v string) { meta.ZeroDopplerStartTime = v }},
		{base + "/zeroDopplerStopTime", func(v string) { meta.ZeroDopplerStopTime = v }},
		{base + "/boundingPolygon", func(v string) { meta.BoundingPolygonWKT = v }},
	}
	for _, f := range stringFields {
		if ds, ok := r.dataset(f.path); ok {
			if vals, err := ds.ReadString(); err == nil && len(vals) > 0 {
				f.set(vals[0])
			}
		}
	}

	intFields := []struct {
		path string
		set  func(int64)
	}{
		{base + "/absoluteOrbitNumber", func(v int64) { meta.AbsoluteOrbitNumber = v }},
		{base + "/relativeOrbitNumber", func(v int64) { meta.RelativeOrbitNumber = v }},
		{base + "/trackNumber", func(v int64) { meta.TrackNumber = v }},
		{base + "/frameNumber", func(v int64) { meta.FrameNumber = v }},
	}
	for _, f := range intFields {
		if ds, ok := r.dataset(f.path); ok {
			if vals, err := ds.ReadInt64(); err == nil && len(vals) > 0 {
				f.set(vals[0])
			}
		}
	}

	// Fall back to group attributes for MissionID and OrbitPassDirection
	// when their datasets are absent or unreadable; the other fields have
	// no attribute fallback.
	if grp, ok := r.groups[base]; ok {
		if meta.MissionID == "" {
			if attr := grp.Attr("mission_id"); attr != nil {
				if v, err := attr.ReadScalarString(); err == nil {
					meta.MissionID = v
				}
			}
		}
		if meta.OrbitPassDirection == "" {
			if attr := grp.Attr("orbit_pass_direction"); attr != nil {
				if v, err := attr.ReadScalarString(); err == nil {
					meta.OrbitPassDirection = v
				}
			}
		}
	}

	return meta, nil
}
