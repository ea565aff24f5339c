// Package agentworker implements C7: the out-of-process task executor
// state machine. PromptData/title-casing are adapted from the teacher's
// agents/spawner.go (PromptData struct, text/template rendering with
// golang.org/x/text/cases+language custom funcs) generalized from
// ticket-run prompts to per-task-type prompts; the CLI-exec half
// (runClaude shelling out to the claude binary) is dropped per DESIGN.md
// in favor of the external.LLMProvider seam.
package agentworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/external"
)

// templateFuncs mirrors the teacher's agents/spawner.go template.FuncMap.
var templateFuncs = template.FuncMap{
	"title": cases.Title(language.English).String,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
}

// PromptData is the data handed to an agent type's prompt template,
// narrowed from the teacher's PromptData (which also carried worktree
// paths, board stats, and PRD conversation state — all dropped along with
// the worktree/PRD-collaboration features per DESIGN.md) to the fields
// SPEC_FULL.md's three task payload kinds actually need.
type PromptData struct {
	AgentName      string
	AgentType      domain.AgentType
	TaskType       domain.TaskType
	TicketID       string
	TicketJSON     string
	CommentContent string
	Mentions       []string
	Note           string
}

// AgentProcessor executes one task and returns whether it succeeded. The
// default implementation renders a prompt template and calls an
// external.LLMProvider; SPEC_FULL.md's Non-goals exclude the LLM's own
// reasoning, so this is the last seam the core owns.
type AgentProcessor interface {
	Process(ctx context.Context, task domain.Task, agent domain.Agent) (success bool, output string, err error)
}

// TemplateProcessor renders a prompt from the task payload and forwards
// it to an LLMProvider.
type TemplateProcessor struct {
	Templates map[domain.TaskType]*template.Template
	Provider  external.LLMProvider
}

// NewTemplateProcessor parses the given prompt template source per task
// type.
func NewTemplateProcessor(sources map[domain.TaskType]string, provider external.LLMProvider) (*TemplateProcessor, error) {
	parsed := make(map[domain.TaskType]*template.Template, len(sources))
	for t, src := range sources {
		tmpl, err := template.New(string(t)).Funcs(templateFuncs).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse prompt template for task type %s: %w", t, err)
		}
		parsed[t] = tmpl
	}
	return &TemplateProcessor{Templates: parsed, Provider: provider}, nil
}

// Process renders the task's prompt and sends it to the LLM provider.
func (p *TemplateProcessor) Process(ctx context.Context, task domain.Task, agent domain.Agent) (bool, string, error) {
	data, err := promptDataFor(task, agent)
	if err != nil {
		return false, "", err
	}

	tmpl, ok := p.Templates[task.Type]
	if !ok {
		return false, "", fmt.Errorf("no prompt template registered for task type %s", task.Type)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return false, "", fmt.Errorf("render prompt: %w", err)
	}

	resp, err := p.Provider.SendMessage(ctx, external.MessageRequest{
		SystemPrompt: sb.String(),
		Messages:     []external.Message{{Role: "user", Content: data.CommentContent}},
	})
	if err != nil {
		return false, "", err
	}
	return true, resp.Content, nil
}

func promptDataFor(task domain.Task, agent domain.Agent) (PromptData, error) {
	data := PromptData{AgentName: agent.Name, AgentType: agent.Type, TaskType: task.Type}

	switch task.Type {
	case domain.TaskMention:
		var p domain.MentionPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return data, fmt.Errorf("unmarshal mention payload: %w", err)
		}
		data.TicketID, data.CommentContent, data.Mentions = p.TicketID, p.CommentContent, p.Mentions
	case domain.TaskRefinement:
		var p domain.RefinementPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return data, fmt.Errorf("unmarshal refinement payload: %w", err)
		}
		data.TicketID = p.TicketID
		data.CommentContent = p.Title
	case domain.TaskManual:
		var p domain.ManualPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return data, fmt.Errorf("unmarshal manual payload: %w", err)
		}
		data.TicketID, data.Note = p.TicketID, p.Note
	}

	ticketJSON, err := json.MarshalIndent(struct {
		TicketID string   `json:"ticket_id"`
		Mentions []string `json:"mentions,omitempty"`
	}{data.TicketID, data.Mentions}, "", "  ")
	if err == nil {
		data.TicketJSON = string(ticketJSON)
	}
	return data, nil
}
