package reason

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"rwaguard/internal/evidence"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiScorer assesses matches with a Gemini model. Calls are rate limited
// client-side; quota and server errors surface as UnavailableError so the
// engine retries them instead of rejecting the hypothesis outright.
type GeminiScorer struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	limiter *rate.Limiter
}

// geminiVerdict is the JSON shape the model is instructed to answer with.
type geminiVerdict struct {
	Support      float64 `json:"support"`
	Corroborated bool    `json:"corroborated"`
	Contradicted bool    `json:"contradicted"`
	Rationale    string  `json:"rationale"`
}

// NewGeminiScorer dials the Gemini API. Model may be empty for the default.
func NewGeminiScorer(ctx context.Context, apiKey, model string) (*GeminiScorer, error) {
	if apiKey == "" {
		return nil, errors.New("reason: gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("reason: create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	m := client.GenerativeModel(model)
	m.ResponseMIMEType = "application/json"
	return &GeminiScorer{
		client:  client,
		model:   m,
		limiter: rate.NewLimiter(rate.Every(750*time.Millisecond), 1),
	}, nil
}

// Close releases the underlying API client.
func (g *GeminiScorer) Close() error { return g.client.Close() }

func (g *GeminiScorer) Score(ctx context.Context, req ScoreRequest) (Assessment, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Assessment{}, err
	}

	resp, err := g.model.GenerateContent(ctx, genai.Text(buildPrompt(req)))
	if err != nil {
		if transientAPIError(err) {
			return Assessment{}, &UnavailableError{Backend: "gemini", Err: err}
		}
		return Assessment{}, fmt.Errorf("reason: gemini call: %w", err)
	}

	text, err := firstText(resp)
	if err != nil {
		return Assessment{}, err
	}
	var v geminiVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return Assessment{}, fmt.Errorf("reason: parse gemini verdict: %w", err)
	}
	if v.Support < 0 {
		v.Support = 0
	}
	if v.Support > 1 {
		v.Support = 1
	}
	return Assessment{
		Support:      v.Support,
		Corroborated: v.Corroborated,
		Contradicted: v.Contradicted,
		Rationale:    v.Rationale,
	}, nil
}

func transientAPIError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("reason: empty gemini response")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), nil
		}
	}
	return "", errors.New("reason: no text part in gemini response")
}

func buildPrompt(req ScoreRequest) string {
	var b strings.Builder
	b.WriteString("You are auditing a tokenized real-world asset offering.\n")
	fmt.Fprintf(&b, "Suspected defect: %s (%s).\n", req.Pattern.Title, req.Pattern.Category)
	fmt.Fprintf(&b, "Anchor evidence at %s: %s\n", req.Target.String(), req.Anchor.Text)
	if len(req.Supporting) > 0 {
		b.WriteString("Supporting evidence:\n")
		for _, c := range req.Supporting {
			fmt.Fprintf(&b, "- [%s] %s\n", c.Loc.String(), c.Text)
		}
	}
	if len(req.Rules) > 0 {
		b.WriteString("Applicable compliance obligations:\n")
		for _, r := range req.Rules {
			fmt.Fprintf(&b, "- %s: %s\n", r.RuleID, r.Obligation)
		}
	}
	if req.Evidence != nil {
		if reports := req.Evidence.ByModality(evidence.ModalityReportText); len(reports) > 0 {
			b.WriteString("Audit report statements:\n")
			for _, u := range reports {
				for _, c := range u.Claims {
					fmt.Fprintf(&b, "- %s\n", c.Text)
				}
			}
		}
	}
	b.WriteString(`Answer with JSON only: {"support": <0..1>, "corroborated": <bool>, "contradicted": <bool>, "rationale": "<one sentence>"}. ` +
		"support is how strongly the evidence shows the defect is real, " +
		"corroborated is whether an obligation independently confirms it, " +
		"contradicted is whether the evidence shows it is already addressed.\n")
	return b.String()
}
