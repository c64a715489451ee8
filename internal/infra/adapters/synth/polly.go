package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/adapters/httpx"
)

var _ adapter.SynthesisProvider = (*Polly)(nil)

type pollyClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Polly synthesizes speech with Amazon Polly. Credentials come from the default AWS chain.
type Polly struct {
	id      string
	region  string
	voiceID string
	engine  string

	mu     sync.Mutex
	client pollyClient
}

func NewPolly(id, region, voiceID, engine string) *Polly {
	if voiceID == "" {
		voiceID = "Joanna"
	}
	if engine == "" {
		engine = "neural"
	}
	return &Polly{id: id, region: region, voiceID: voiceID, engine: engine}
}

// WithClient injects a client, mainly for tests.
func (p *Polly) WithClient(c pollyClient) *Polly {
	p.client = c
	return p
}

func (p *Polly) ID() string { return p.id }

// Available requires a region; AWS resolves the credentials lazily.
func (p *Polly) Available() bool { return p.region != "" || p.client != nil }

func (p *Polly) resolve(ctx context.Context) (pollyClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return nil, domain.NewProviderError(p.id, domain.ErrAuthentication, 0, fmt.Sprintf("load aws config: %v", err))
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}

func (p *Polly) Start(ctx context.Context, req adapter.SynthesisRequest) (adapter.Submission, error) {
	text := firstNonEmpty(req.Input.Script, req.Input.Prompt)
	if strings.TrimSpace(text) == "" {
		return adapter.Submission{}, domain.NewProviderError(p.id, domain.ErrProviderRejected, 0, "empty text")
	}
	client, err := p.resolve(ctx)
	if err != nil {
		return adapter.Submission{}, err
	}
	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         aws.String(text),
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(firstNonEmpty(req.Input.VoiceID, p.voiceID)),
	})
	if err != nil {
		return adapter.Submission{}, p.classify(err)
	}
	if out == nil || out.AudioStream == nil {
		return adapter.Submission{}, domain.NewProviderError(p.id, domain.ErrMalformedResponse, 0, "empty audio stream")
	}
	defer out.AudioStream.Close()
	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return adapter.Submission{}, httpx.ClassifyTransport(p.id, err)
	}
	if len(data) == 0 {
		return adapter.Submission{}, domain.NewProviderError(p.id, domain.ErrMalformedResponse, 0, "empty audio stream")
	}
	return adapter.Submission{Asset: &adapter.Asset{Data: data, ContentType: "audio/mpeg"}}, nil
}

func (p *Polly) Poll(context.Context, string) (adapter.PollResult, error) {
	return adapter.PollResult{}, errors.New("polly: synchronous provider has no handles")
}

func (p *Polly) classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return httpx.ClassifyTransport(p.id, err)
	}
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "ThrottlingException":
		return domain.NewProviderError(p.id, domain.ErrRateLimited, 0, apiErr.ErrorMessage())
	case "UnrecognizedClientException", "InvalidSignatureException", "AccessDeniedException", "ExpiredTokenException":
		return domain.NewProviderError(p.id, domain.ErrAuthentication, 0, apiErr.ErrorMessage())
	case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
		"MarksNotSupportedForFormatException", "InvalidSampleRateException", "EngineNotSupportedException":
		return domain.NewProviderError(p.id, domain.ErrProviderRejected, 0, apiErr.ErrorMessage())
	default:
		return domain.NewProviderError(p.id, domain.ErrProviderFailure, 0, apiErr.ErrorMessage())
	}
}
