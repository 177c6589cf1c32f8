package compose

// Hardening limits enforced unconditionally on every compose call.
const (
	MaxParticipants    = 1000
	MaxScriptDataTotal = 387 * 1024 // 387 KiB across one participant's instruction
	MaxScriptDataChunk = 520        // largest single data push a script may carry
	MaxOpReturnBytes   = 80
	MaxUTXOsPerParty   = 64
	MinEnvelopeValue   = 330 // dust-safe floor for a P2TR script output, sats
	DummySchnorrSigLen = 65  // witness placeholder size for a key-path or script-path signature
)
