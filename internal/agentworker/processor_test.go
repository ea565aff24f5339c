package agentworker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madhatter5501/dispatchd/internal/domain"
	"github.com/madhatter5501/dispatchd/internal/external"
)

type fakeProvider struct {
	lastReq external.MessageRequest
	reply   string
	err     error
}

func (f *fakeProvider) SendMessage(_ context.Context, req external.MessageRequest) (*external.MessageResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &external.MessageResponse{Content: f.reply}, nil
}

func (f *fakeProvider) ModelName() string { return "fake" }

func TestTemplateProcessorRendersMentionPrompt(t *testing.T) {
	provider := &fakeProvider{reply: "done"}
	proc, err := NewTemplateProcessor(map[domain.TaskType]string{
		domain.TaskMention: "Hello {{.AgentName}}, re ticket {{.TicketID}}: {{.CommentContent}}",
	}, provider)
	require.NoError(t, err)

	payload, _ := json.Marshal(domain.MentionPayload{
		TicketID:       "t1",
		CommentContent: "please take a look",
		Mentions:       []string{"dev-1"},
	})
	task := domain.Task{Type: domain.TaskMention, Payload: payload}
	agent := domain.Agent{Name: "dev-1", Type: domain.AgentDeveloper}

	success, output, err := proc.Process(context.Background(), task, agent)
	require.NoError(t, err)
	assert.True(t, success)
	assert.Equal(t, "done", output)
	assert.Contains(t, provider.lastReq.SystemPrompt, "Hello dev-1")
	assert.Contains(t, provider.lastReq.SystemPrompt, "please take a look")
}

func TestTemplateProcessorMissingTemplateErrors(t *testing.T) {
	provider := &fakeProvider{reply: "done"}
	proc, err := NewTemplateProcessor(map[domain.TaskType]string{
		domain.TaskMention: "hello",
	}, provider)
	require.NoError(t, err)

	payload, _ := json.Marshal(domain.ManualPayload{Note: "go"})
	task := domain.Task{Type: domain.TaskManual, Payload: payload}

	_, _, err = proc.Process(context.Background(), task, domain.Agent{Name: "dev-1"})
	require.Error(t, err)
}

func TestTemplateProcessorPropagatesProviderError(t *testing.T) {
	provider := &fakeProvider{err: assert.AnError}
	proc, err := NewTemplateProcessor(map[domain.TaskType]string{
		domain.TaskManual: "go: {{.Note}}",
	}, provider)
	require.NoError(t, err)

	payload, _ := json.Marshal(domain.ManualPayload{Note: "go"})
	task := domain.Task{Type: domain.TaskManual, Payload: payload}

	success, _, err := proc.Process(context.Background(), task, domain.Agent{Name: "dev-1"})
	require.Error(t, err)
	assert.False(t, success)
}

func TestNewTemplateProcessorRejectsBadTemplateSyntax(t *testing.T) {
	_, err := NewTemplateProcessor(map[domain.TaskType]string{
		domain.TaskManual: "{{.Unclosed",
	}, &fakeProvider{})
	require.Error(t, err)
}

func TestPromptDataForRefinementUsesTitleAsCommentContent(t *testing.T) {
	payload, _ := json.Marshal(domain.RefinementPayload{TicketID: "t9", Title: "Investigate flaky test"})
	task := domain.Task{Type: domain.TaskRefinement, Payload: payload}

	data, err := promptDataFor(task, domain.Agent{Name: "planner-1"})
	require.NoError(t, err)
	assert.Equal(t, "t9", data.TicketID)
	assert.Equal(t, "Investigate flaky test", data.CommentContent)
}
