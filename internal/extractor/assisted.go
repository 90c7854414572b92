package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/trailblaze-io/trailblaze/internal/events"
)

// ErrAssistedReply indicates the completion service answered with
// something other than the requested JSON array.
var ErrAssistedReply = errors.New("assisted extraction reply unusable")

// DefaultAssistedModel is the completion model used when none is
// configured.
const DefaultAssistedModel = "claude-sonnet-4-5"

const assistedMaxTokens = 4096

// assistedSystemPrompt pins the reply format. The schema mirrors the
// RawRow keys the Transformer understands.
const assistedSystemPrompt = `You extract endurance-ride events from calendar HTML.
Reply with ONLY a JSON array. Each element describes one event with these keys:
"name" (string, required), "date_start" (YYYY-MM-DD, required),
"location" (string, required), "region" (string), "ride_id" (string),
"distances" (array of {"distance": string, "start_time": string}),
"ride_manager" (string), "ride_manager_contact" ({"email": string, "phone": string}),
"website" (string), "flyer_url" (string), "map_link" (string),
"description" (string), "directions" (string),
"control_judges" (array of {"name": string, "role": string}),
"is_canceled" (boolean), "has_intro_ride" (boolean).
Omit keys you cannot determine. Reply [] when no events are present.`

// completer is the narrow completion surface the strategy needs; tests
// substitute a fake.
type completer interface {
	complete(ctx context.Context, system, prompt string) (string, error)
}

// Assisted asks a text-completion service to extract rows a structural
// pass may have missed. It is always a supplement: the Extractor merges
// its output into the structural result and drops it on any failure.
type Assisted struct {
	completer completer
	model     string
}

// anthropicCompleter adapts the Anthropic Messages API to completer.
type anthropicCompleter struct {
	client anthropic.Client
	model  string
}

func (a *anthropicCompleter) complete(ctx context.Context, system, prompt string) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: assistedMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder

	for _, block := range message.Content {
		b.WriteString(block.Text)
	}

	return b.String(), nil
}

// NewAssisted creates the assisted strategy against the Anthropic API.
// An empty model selects DefaultAssistedModel.
func NewAssisted(apiKey, model string) *Assisted {
	if model == "" {
		model = DefaultAssistedModel
	}

	return &Assisted{
		completer: &anthropicCompleter{
			client: anthropic.NewClient(option.WithAPIKey(apiKey)),
			model:  model,
		},
		model: model,
	}
}

// Extract sends the chunk with the schema prompt and parses the JSON
// array reply into raw rows.
func (a *Assisted) Extract(ctx context.Context, chunk string) ([]events.RawRow, error) {
	reply, err := a.completer.complete(ctx, assistedSystemPrompt, chunk)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}

	return parseAssistedReply(reply)
}

// parseAssistedReply locates the JSON array in a reply, tolerating code
// fences and prose around it.
func parseAssistedReply(reply string) ([]events.RawRow, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")

	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array in reply", ErrAssistedReply)
	}

	var raw []map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssistedReply, err)
	}

	rows := make([]events.RawRow, 0, len(raw))
	for _, m := range raw {
		rows = append(rows, events.RawRow(m))
	}

	return rows, nil
}
