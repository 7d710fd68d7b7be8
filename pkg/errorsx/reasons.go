package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCapabilityUnavailable ReasonCode = "capability_unavailable"

	ReasonSTTStart   ReasonCode = "stt_start"
	ReasonSTTStop    ReasonCode = "stt_stop"
	ReasonSTTConnect ReasonCode = "stt_connect"

	ReasonInterpretationFailed ReasonCode = "interpretation_failed"
	ReasonInterpretRateLimit   ReasonCode = "interpret_rate_limit"
	ReasonInterpretCircuitOpen ReasonCode = "interpret_circuit_open"
	ReasonInterpretTimeout     ReasonCode = "interpret_timeout"

	ReasonPlaybackFailed ReasonCode = "playback_failed"
	ReasonTTSConnect     ReasonCode = "tts_connect"
	ReasonTTSSend        ReasonCode = "tts_send"

	ReasonCatalogFetch ReasonCode = "catalog_fetch"
)
