package scoring

// Features is the explainable lexical breakdown of a prompt, shared with
// pattern extraction and categorization.
type Features struct {
	Camera        []string
	Lighting      []string
	Motion        []string
	Audio         []string
	Production    []string
	HasSubject    bool
	HasSetting    bool
	HasMood       bool
	HasDuration   bool
	HasResolution bool
	Vague         int
	Words         int
}

// Extract computes the features of text.
func Extract(text string) Features {
	f := newTextFeatures(text)
	return Features{
		Camera:        f.hits(cameraTerms),
		Lighting:      f.hits(lightingTerms),
		Motion:        f.hits(motionTerms),
		Audio:         f.hits(audioTerms),
		Production:    f.hits(productionTerms),
		HasSubject:    len(f.hits(subjectTerms)) > 0,
		HasSetting:    len(f.hits(settingTerms)) > 0,
		HasMood:       len(f.hits(moodTerms)) > 0,
		HasDuration:   durationExpr.MatchString(f.lower),
		HasResolution: resolutionExpr.MatchString(f.lower),
		Vague:         len(f.hits(vagueTerms)),
		Words:         f.count,
	}
}

// Visual counts camera, lighting, motion and production terms.
func (f Features) Visual() int {
	return len(f.Camera) + len(f.Lighting) + len(f.Motion) + len(f.Production)
}

// Terms lists every technical term found, grouped by category in a fixed order.
func (f Features) Terms() []string {
	out := make([]string, 0, len(f.Camera)+len(f.Lighting)+len(f.Motion)+len(f.Audio)+len(f.Production))
	out = append(out, f.Camera...)
	out = append(out, f.Lighting...)
	out = append(out, f.Motion...)
	out = append(out, f.Audio...)
	out = append(out, f.Production...)
	return out
}
