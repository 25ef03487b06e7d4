// Package google provides a recognizer on Google Cloud Speech-to-Text.
//
// [Provider] implements both shapes the pipeline uses: [stt.StreamingProvider]
// over StreamingRecognize with interim results, for live sessions wrapped by
// the native package, and [stt.Provider] as a one-shot Recognize call on the
// finished recording.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

const (
	defaultLanguage     = "en-US"
	defaultCloseTimeout = 5 * time.Second
)

var (
	_ stt.Provider          = (*Provider)(nil)
	_ stt.StreamingProvider = (*Provider)(nil)
)

// Config holds recognition defaults.
type Config struct {
	// LanguageCode is a BCP-47 tag. Default: "en-US".
	LanguageCode string

	// Model selects a recognition model such as "latest_short". Empty uses
	// the service default.
	Model string

	// ClientOptions are passed to the Speech client, e.g. credentials or an
	// endpoint override.
	ClientOptions []option.ClientOption
}

// Provider is a Google Cloud Speech recognizer.
type Provider struct {
	client *speech.Client
	cfg    Config
}

// New creates a Speech client. Credentials are resolved the usual way
// (GOOGLE_APPLICATION_CREDENTIALS or ambient credentials) unless overridden
// in cfg.ClientOptions.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	c, err := speech.NewClient(ctx, cfg.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("google: create speech client: %w", err)
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = defaultLanguage
	}
	return &Provider{client: c, cfg: cfg}, nil
}

// Close releases the underlying client connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Capabilities implements [stt.Provider].
func (p *Provider) Capabilities() stt.Capabilities {
	return stt.Capabilities{AnalyzeSilence: true}
}

func (p *Provider) recognitionConfig(sampleRate int, language string, keywords []stt.KeywordBoost) *speechpb.RecognitionConfig {
	if language == "" {
		language = p.cfg.LanguageCode
	}
	if sampleRate == 0 {
		sampleRate = audio.DefaultSampleRate
	}
	rc := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(sampleRate),
		AudioChannelCount:          1,
		LanguageCode:               language,
		Model:                      p.cfg.Model,
		EnableAutomaticPunctuation: true,
	}
	for _, kw := range keywords {
		rc.SpeechContexts = append(rc.SpeechContexts, &speechpb.SpeechContext{
			Phrases: []string{kw.Keyword},
			Boost:   float32(kw.Boost),
		})
	}
	return rc
}

// Transcribe implements [stt.Provider] with a single Recognize call.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if req.Audio.Len() == 0 {
		return "", voice.ErrEmptyAudio
	}
	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: p.recognitionConfig(audio.DefaultSampleRate, req.Language, req.Keywords),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: audio.Float32ToBytes(audio.Resample(req.Audio.Samples, req.Audio.SampleRate, audio.DefaultSampleRate)),
			},
		},
	})
	if err != nil {
		return "", mapError(ctx, "recognize", err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, " "), nil
}

// StartStream implements [stt.StreamingProvider].
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := p.client.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		return nil, mapError(ctx, "open stream", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         p.recognitionConfig(cfg.SampleRate, cfg.Language, cfg.Keywords),
				InterimResults: true,
			},
		},
	})
	if err != nil {
		cancel()
		return nil, mapError(ctx, "send config", err)
	}

	s := &session{
		stream:   stream,
		ctx:      sctx,
		cancel:   cancel,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}
	go s.recvLoop()
	return s, nil
}

// session is one StreamingRecognize call. recvLoop owns the output channels.
type session struct {
	stream speechpb.Speech_StreamingRecognizeClient
	ctx    context.Context
	cancel context.CancelFunc

	partials chan stt.Transcript
	finals   chan stt.Transcript
	done     chan struct{}

	mu        sync.Mutex
	closed    bool
	recvError error

	once     sync.Once
	closeErr error
}

// SendAudio sends a chunk of 16-bit little-endian PCM.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("google: session is closed")
	}
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
	})
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords returns [stt.ErrNotSupported]: speech contexts are fixed by
// the initial config message.
func (s *session) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("google: %w", stt.ErrNotSupported)
}

// Close half-closes the stream and waits for the remaining results.
func (s *session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		err := s.stream.CloseSend()
		s.mu.Unlock()

		select {
		case <-s.done:
		case <-time.After(defaultCloseTimeout):
		}
		s.cancel()
		<-s.done

		s.mu.Lock()
		defer s.mu.Unlock()
		s.closeErr = errors.Join(err, s.recvError)
	})
	return s.closeErr
}

func (s *session) recvLoop() {
	defer close(s.done)
	defer close(s.partials)
	defer close(s.finals)

	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				s.mu.Lock()
				s.recvError = fmt.Errorf("google: recv: %w", err)
				s.mu.Unlock()
			}
			return
		}
		for _, r := range resp.GetResults() {
			alts := r.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			out := s.partials
			if r.GetIsFinal() {
				out = s.finals
			}
			select {
			case out <- toTranscript(r.GetIsFinal(), alts[0]):
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func toTranscript(final bool, alt *speechpb.SpeechRecognitionAlternative) stt.Transcript {
	tr := stt.Transcript{
		Text:       alt.GetTranscript(),
		IsFinal:    final,
		Confidence: float64(alt.GetConfidence()),
	}
	for _, w := range alt.GetWords() {
		tr.Words = append(tr.Words, stt.WordDetail{
			Word:       w.GetWord(),
			Start:      w.GetStartTime().AsDuration(),
			End:        w.GetEndTime().AsDuration(),
			Confidence: float64(w.GetConfidence()),
		})
	}
	return tr
}

// mapError sorts gRPC failures into the pipeline's error taxonomy.
func mapError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	st, ok := status.FromError(err)
	if !ok {
		return stt.TransportError(ctx, op, err)
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.Unavailable, codes.DeadlineExceeded:
		return &voice.TransportError{Op: op, Err: err}
	default:
		return &voice.ServerError{Message: st.Message()}
	}
}
