package multipart

import "time"

// Variant describes the wire details that distinguish one synchronous
// multipart transcription API from another.
type Variant struct {
	// Name identifies the variant in logs and results.
	Name string

	// Endpoint is the full URL requests are POSTed to.
	Endpoint string

	// AuthHeader is the request header carrying the API key. Empty disables
	// authentication.
	AuthHeader string

	// AuthPrefix is prepended to the API key, e.g. "Bearer ".
	AuthPrefix string

	// ModelField and LanguageField name the form fields for the model and
	// the language hint. An empty name omits the field.
	ModelField    string
	LanguageField string

	// DefaultModel is sent when no model is configured.
	DefaultModel string

	// ExtraFields are sent with every request.
	ExtraFields map[string]string

	// Timeout bounds a single request.
	Timeout time.Duration
}

// Preset variants.
var (
	OpenAI = Variant{
		Name:          "openai",
		Endpoint:      "https://api.openai.com/v1/audio/transcriptions",
		AuthHeader:    "Authorization",
		AuthPrefix:    "Bearer ",
		ModelField:    "model",
		LanguageField: "language",
		DefaultModel:  "whisper-1",
		Timeout:       60 * time.Second,
	}

	ElevenLabs = Variant{
		Name:          "elevenlabs",
		Endpoint:      "https://api.elevenlabs.io/v1/speech-to-text",
		AuthHeader:    "xi-api-key",
		ModelField:    "model_id",
		LanguageField: "language_code",
		DefaultModel:  "scribe_v1",
		Timeout:       120 * time.Second,
	}

	GLM = Variant{
		Name:         "glm",
		Endpoint:     "https://open.bigmodel.cn/api/paas/v4/audio/transcriptions",
		AuthHeader:   "Authorization",
		AuthPrefix:   "Bearer ",
		ModelField:   "model",
		DefaultModel: "glm-asr",
		ExtraFields:  map[string]string{"stream": "false"},
		Timeout:      60 * time.Second,
	}

	// WhisperServer targets a self-hosted whisper.cpp server. The endpoint
	// defaults to a server on localhost:8080; point it at another host with
	// [WithEndpoint].
	WhisperServer = Variant{
		Name:          "whisper-server",
		Endpoint:      "http://localhost:8080/inference",
		LanguageField: "language",
		ExtraFields:   map[string]string{"response_format": "json"},
		Timeout:       60 * time.Second,
	}

	// Custom is the OpenAI wire shape with user-supplied endpoint, model and
	// key.
	Custom = Variant{
		Name:          "custom",
		AuthHeader:    "Authorization",
		AuthPrefix:    "Bearer ",
		ModelField:    "model",
		LanguageField: "language",
		Timeout:       60 * time.Second,
	}
)

// Presets maps provider names to their variants.
var Presets = map[string]Variant{
	OpenAI.Name:        OpenAI,
	ElevenLabs.Name:    ElevenLabs,
	GLM.Name:           GLM,
	WhisperServer.Name: WhisperServer,
	Custom.Name:        Custom,
}
