package realtime

// Protocol defaults for the remote realtime endpoint.
const (
	// DefaultModel is the realtime model the offer is negotiated against.
	DefaultModel = "gpt-4o-mini-realtime-preview-2024-12-17"

	// DefaultBaseURL is the negotiation endpoint. The model name is passed
	// as a query parameter.
	DefaultBaseURL = "https://api.openai.com/v1/realtime"

	// DefaultChannelLabel is the control channel label the endpoint expects.
	DefaultChannelLabel = "oai-events"
)

// DefaultGreeting opens the transcript before the agent says anything.
const DefaultGreeting = "¡Hola! Soy Chip. ¿Listo para practicar?"

// DefaultInstructions is the agent persona used when the caller supplies
// none.
const DefaultInstructions = `# Role & Objective
You are Chip, a friendly and patient Spanish tutor.
Goal: Help the user practice Spanish through natural conversation.

# Personality & Tone
- Encouraging, warm, supportive
- 1-2 sentences per turn
- Speak slowly but naturally

# Language
- ONLY respond in Spanish (A1-A2 level vocabulary)
- Use simple, basic words ONLY
- IF user speaks English, say: "Practiquemos en español"

# Unclear Audio
- ONLY respond to clear audio or text
- IF audio is unclear/noisy/silent/unintelligible, ask for clarification

# Variety Rule
DO NOT repeat the same sentence twice. Sound natural and human, not robotic.

# Corrections
- IF user makes mistake, correct gently AFTER responding`

// SessionUpdate is the single outbound configuration message, sent once on
// control-channel open.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

// SessionParams carries the fixed protocol parameters plus the per-session
// instructions.
type SessionParams struct {
	Modalities              []string           `json:"modalities"`
	Instructions            string             `json:"instructions"`
	Voice                   string             `json:"voice"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription InputTranscription `json:"input_audio_transcription"`
	TurnDetection           TurnDetection      `json:"turn_detection"`
	Temperature             float64            `json:"temperature"`
	MaxResponseOutputTokens int                `json:"max_response_output_tokens"`
}

// InputTranscription selects the transcription model for user audio.
type InputTranscription struct {
	Model string `json:"model"`
}

// TurnDetection configures the endpoint's server-side voice activity
// detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

// NewSessionUpdate builds the configuration message for the given
// instructions, falling back to DefaultInstructions when empty.
func NewSessionUpdate(instructions string) SessionUpdate {
	if instructions == "" {
		instructions = DefaultInstructions
	}
	return SessionUpdate{
		Type: "session.update",
		Session: SessionParams{
			Modalities:        []string{"text", "audio"},
			Instructions:      instructions,
			Voice:             "cedar",
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: InputTranscription{
				Model: "whisper-1",
			},
			TurnDetection: TurnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 700,
				CreateResponse:    true,
			},
			Temperature:             0.8,
			MaxResponseOutputTokens: 4096,
		},
	}
}
