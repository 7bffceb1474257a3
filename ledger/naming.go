package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/util"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
)

var errNoNamingModel = errors.New("no model configured for artifact naming")

const namingInstructions = `You name pieces of information found while answering a user.
Return a short title (at most six words) and a one sentence description of what the information contains.`

// artifactName is the object the naming model returns.
type artifactName struct {
	Name        string `json:"name" description:"A short title of at most six words"`
	Description string `json:"description" description:"One sentence describing the contents"`
}

var namingSchema = model.Schema{
	Name:        "artifact_name",
	Description: "A name and description for a piece of found information.",
	Parameters:  util.CreateSchema(artifactName{}),
}

// startNamingLocked spawns the naming job for a pending artifact unless the
// pending cap is reached. Callers hold l.mu.
func (l *Ledger) startNamingLocked(agentID string, saved core.ArtifactSavedData) {
	if !l.sem.TryAcquire(1) {
		l.opts.Logger.Warn("too many pending artifacts, dropping naming",
			"artifact_id", saved.ArtifactID,
			"limit", l.opts.MaxPendingArtifacts,
		)
		l.opts.Metrics.ArtifactDropped()
		return
	}
	l.pending.Add(1)
	l.opts.Metrics.ArtifactPending(1)

	l.wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.opts.Logger.Error("artifact naming panicked", "artifact_id", saved.ArtifactID, "panic", r)
			}
			l.sem.Release(1)
			l.pending.Add(-1)
			l.opts.Metrics.ArtifactPending(-1)
			l.wg.Done()
		}()
		l.nameArtifact(agentID, saved.Artifact.Clone())
	}()
}

// nameArtifact asks a model for a name and description and persists the
// artifact. Any failure writes the fallback name instead.
func (l *Ledger) nameArtifact(agentID string, art *core.Artifact) {
	ctx, cancel := context.WithTimeout(l.ctx, l.opts.NamingTimeout)
	defer cancel()

	logger := logging.With(l.opts.Logger, "artifact_id", art.ArtifactID, "tool_call_id", art.ToolCallID)

	name, description, err := l.generateName(ctx, agentID, art)
	if err != nil {
		logger.Warn("artifact naming failed, using fallback",
			"failures", l.namingFailures(art.Key()),
			"error", err,
		)
		l.opts.Metrics.ArtifactNamingFailed()
		name, description = FallbackName(art)
	}

	art.Name = name
	art.Description = description
	art.PendingGeneration = false

	if l.opts.Artifacts != nil {
		// the fallback must land even when Cleanup cancelled ctx
		saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancelSave()
		if err := l.opts.Artifacts.SaveArtifact(saveCtx, art); err != nil {
			logger.Error("failed to save named artifact", "error", err)
		}
	}

	l.namingMu.Lock()
	delete(l.namingErrors, art.Key())
	l.namingMu.Unlock()

	logger.Debug("artifact named", "name", art.Name)
}

func (l *Ledger) generateName(ctx context.Context, agentID string, art *core.Artifact) (string, string, error) {
	m := l.namingModel(ctx, agentID)
	if m == nil {
		return "", "", errNoNamingModel
	}
	req := model.Request{
		Instructions: namingInstructions,
		Prompt:       l.namingPrompt(ctx, art),
		MaxTokens:    200,
	}

	var out artifactName
	op := func() error {
		start := time.Now()
		obj, err := m.GenerateObject(ctx, req, namingSchema)
		logging.LogModelCall(l.opts.Logger, m.Info().Name, "artifact_name", time.Since(start), err)
		if err == nil {
			out.Name = strings.TrimSpace(stringField(obj, "name"))
			out.Description = strings.TrimSpace(stringField(obj, "description"))
			if out.Name == "" {
				err = errors.New("model returned an empty name")
			}
		}
		if err != nil {
			l.recordNamingFailure(art.Key())
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(l.opts.Backoff(), l.opts.NamingAttempts-1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", "", err
	}
	return out.Name, out.Description, nil
}

// namingModel picks the summarizer, then the base model, then the
// originating agent's own models.
func (l *Ledger) namingModel(ctx context.Context, agentID string) model.Model {
	if st := l.status.Load(); st != nil {
		if m := st.model(); m != nil {
			return m
		}
	}
	if m := l.resolveModel(l.opts.ModelSettings.Summarizer); m != nil {
		return m
	}
	if m := l.resolveModel(l.opts.ModelSettings.Base); m != nil {
		return m
	}
	if l.opts.Agents == nil || agentID == "" {
		return nil
	}
	agent, err := l.opts.Agents.GetAgent(ctx, agentID)
	if err != nil {
		l.opts.Logger.Debug("no agent config for naming", "agent_id", agentID, "error", err)
		return nil
	}
	if m := l.resolveModel(agent.Models.Summarizer); m != nil {
		return m
	}
	return l.resolveModel(agent.Models.Base)
}

func (l *Ledger) resolveModel(name string) model.Model {
	if name == "" || l.opts.Models == nil {
		return nil
	}
	m, ok := l.opts.Models.Model(name)
	if !ok {
		return nil
	}
	return m
}

func (l *Ledger) namingPrompt(ctx context.Context, art *core.Artifact) string {
	var sb strings.Builder
	if history := l.history(ctx); len(history) > 0 {
		sb.WriteString("Conversation:\n")
		for _, m := range history {
			sb.WriteString(formatMessage(m))
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	if call, ok := l.toolCall(art.ToolCallID); ok {
		fmt.Fprintf(&sb, "Produced by %s", humanize(call.ToolName))
		if len(call.Args) > 0 {
			fmt.Fprintf(&sb, " with %s", previewValue(call.Args))
		}
		sb.WriteString(".\n")
	}
	if art.Type != "" {
		fmt.Fprintf(&sb, "Kind: %s\n", art.Type)
	}
	fmt.Fprintf(&sb, "Content: %s\n", previewValue(art.Summary))
	return sb.String()
}

// toolCall finds the tool execution that produced an artifact.
func (l *Ledger) toolCall(toolCallID string) (core.ToolExecutionData, bool) {
	if toolCallID == "" {
		return core.ToolExecutionData{}, false
	}
	events := l.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if d, ok := events[i].Data.(core.ToolExecutionData); ok && d.ToolCallID == toolCallID {
			return d, true
		}
	}
	return core.ToolExecutionData{}, false
}

func (l *Ledger) recordNamingFailure(key string) {
	l.namingMu.Lock()
	l.namingErrors[key]++
	l.namingMu.Unlock()
}

func (l *Ledger) namingFailures(key string) int {
	l.namingMu.Lock()
	defer l.namingMu.Unlock()
	return l.namingErrors[key]
}

// FallbackName is the deterministic name written when no model names an
// artifact.
func FallbackName(a *core.Artifact) (name, description string) {
	kind := strings.TrimSpace(a.Type)
	if kind == "" {
		kind = "artifact"
	}
	first, size := utf8.DecodeRuneInString(kind)
	name = string(unicode.ToUpper(first)) + kind[size:] + " results"

	tool, _ := a.Metadata["toolName"].(string)
	if tool == "" {
		return name, "Results of a lookup."
	}
	return name, "Results from " + humanize(tool) + "."
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
