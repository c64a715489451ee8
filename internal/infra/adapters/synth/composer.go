package synth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
)

var _ adapter.SynthesisProvider = (*Composer)(nil)

// Manifest is the assembly output: the ordered scene assets of one project render.
type Manifest struct {
	ProjectID string    `json:"project_id"`
	JobID     string    `json:"job_id"`
	Scenes    []string  `json:"scenes"`
	Output    string    `json:"output,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Composer assembles a project by writing its ordered manifest. No encoding happens here.
type Composer struct {
	id  string
	now func() time.Time
}

func NewComposer(id string) *Composer {
	return &Composer{id: id, now: time.Now}
}

func (c *Composer) ID() string      { return c.id }
func (c *Composer) Available() bool { return true }

func (c *Composer) Start(_ context.Context, req adapter.SynthesisRequest) (adapter.Submission, error) {
	if len(req.Input.Assets) == 0 {
		return adapter.Submission{}, domain.NewProviderError(c.id, domain.ErrProviderRejected, 0, "no scene assets")
	}
	m := Manifest{
		ProjectID: req.Input.Metadata["project_id"],
		JobID:     req.JobID,
		Scenes:    append([]string(nil), req.Input.Assets...),
		Output:    req.Input.Metadata["output"],
		CreatedAt: c.now().UTC(),
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return adapter.Submission{}, err
	}
	return adapter.Submission{Asset: &adapter.Asset{Data: b, ContentType: "application/json"}}, nil
}

func (c *Composer) Poll(context.Context, string) (adapter.PollResult, error) {
	return adapter.PollResult{}, errors.New("composer: synchronous provider has no handles")
}
