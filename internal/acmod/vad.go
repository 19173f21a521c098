package acmod

// InSpeech reports whether a feature frame looks like speech rather than
// silence, using the frame's first cepstral coefficient as a log-energy
// proxy (SPEC_FULL.md supplement #2: a minimal frame-energy gate backing
// the façade's in_speech() accessor, not a full endpointer — VAD/
// endpointing proper is a spec.md non-goal).
func InSpeech(cep []float32, threshold float32) bool {
	if len(cep) == 0 {
		return false
	}
	return cep[0] >= threshold
}

// DefaultInSpeechThreshold is a conservative default log-energy
// threshold; callers tune it per corpus.
const DefaultInSpeechThreshold float32 = -5.0
