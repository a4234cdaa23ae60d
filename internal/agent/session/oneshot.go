package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/agent/launcher"
	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/project/models"

	"github.com/google/uuid"
)

const oneShotTimeout = 2 * time.Minute

// PrefixInputs are the context blocks prepended to one-shot prompts.
type PrefixInputs struct {
	GlobalContext string
	TaskMeta      string
	TaskContext   string
}

// PrefixSource supplies the prefix inputs for a project. Nil inputs mean
// no prefix.
type PrefixSource interface {
	PrefixInputs(ctx context.Context, projectID string) (*PrefixInputs, error)
}

type cachedPrefix struct {
	hash   string
	prefix string
}

// AskOneShot runs the provider once with the prompt and returns the
// cleaned combined output. Requires a provider with a one-shot flag. The
// project context prefix is rebuilt only when its inputs change.
func (m *Manager) AskOneShot(ctx context.Context, projectID, projectDir, providerName, prompt string) (string, error) {
	cfg, err := m.settings.GetAll(false)
	if err != nil {
		return "", err
	}
	prov, ok := cfg.Providers[providerName]
	if !ok {
		return "", apperr.NotFound("unknown provider: %s", providerName)
	}
	if prov.OneShotFlag == "" {
		return "", apperr.ConfigInvalid("provider %s has no one-shot flag configured", providerName)
	}

	prefix, err := m.promptPrefix(ctx, projectID)
	if err != nil {
		// A missing prefix degrades the prompt, it does not block the run.
		m.logger.Warn("failed to build prompt prefix", zap.Error(err))
		prefix = ""
	}
	full := prompt
	if prefix != "" {
		full = prefix + "\n\n" + prompt
	}

	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, oneShotTimeout)
		defer cancel()
	}

	out, err := m.launcher.RunOneShot(runCtx, launcher.Request{
		Provider:  prov,
		Command:   cfg.Executables.AgentCLIs[providerName],
		Dir:       projectDir,
		ExtraArgs: []string{prov.OneShotFlag, full},
	})
	if err != nil {
		if runCtx.Err() != nil {
			return "", apperr.Timeout("one-shot run with %s timed out", providerName)
		}
		return "", apperr.Wrap(apperr.KindUpstream, err, "one-shot run with %s failed", providerName)
	}

	text := strings.TrimSpace(stripANSI(string(out)))
	m.recordOneShot(ctx, projectID, providerName, prompt, text)
	return text, nil
}

// promptPrefix returns the cached context prefix for the project,
// rebuilding it when the input hash changes. Concurrent rebuilds collapse
// through singleflight.
func (m *Manager) promptPrefix(ctx context.Context, projectID string) (string, error) {
	if m.prefix == nil {
		return "", nil
	}
	inputs, err := m.prefix.PrefixInputs(ctx, projectID)
	if err != nil {
		return "", err
	}
	if inputs == nil {
		return "", nil
	}

	sum := sha256.Sum256([]byte(inputs.GlobalContext + "\x00" + inputs.TaskMeta + "\x00" + inputs.TaskContext))
	hash := hex.EncodeToString(sum[:])

	m.prefixMu.Lock()
	cached, ok := m.prefixes[projectID]
	m.prefixMu.Unlock()
	if ok && cached.hash == hash {
		return cached.prefix, nil
	}

	built, err, _ := m.sf.Do(projectID+":"+hash, func() (any, error) {
		prefix := buildPrefix(inputs)
		m.prefixMu.Lock()
		m.prefixes[projectID] = cachedPrefix{hash: hash, prefix: prefix}
		m.prefixMu.Unlock()
		return prefix, nil
	})
	if err != nil {
		return "", err
	}
	return built.(string), nil
}

// buildPrefix lays the context blocks out as labeled sections.
func buildPrefix(in *PrefixInputs) string {
	var b strings.Builder
	if in.GlobalContext != "" {
		b.WriteString("## Project context\n")
		b.WriteString(strings.TrimSpace(in.GlobalContext))
		b.WriteString("\n\n")
	}
	if in.TaskMeta != "" {
		b.WriteString("## Current task\n")
		b.WriteString(strings.TrimSpace(in.TaskMeta))
		b.WriteString("\n\n")
	}
	if in.TaskContext != "" {
		b.WriteString("## Task context\n")
		b.WriteString(strings.TrimSpace(in.TaskContext))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// recordOneShot keeps the exchange in the transcript as an already closed
// session.
func (m *Manager) recordOneShot(ctx context.Context, projectID, providerName, prompt, output string) {
	row := &models.AgentSession{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Provider:  providerName,
		StartedAt: time.Now().UTC(),
	}
	if err := m.repo.CreateAgentSession(ctx, row); err != nil {
		m.logger.Warn("failed to persist one-shot session", zap.Error(err))
		return
	}
	if err := m.repo.AddAgentMessage(ctx, &models.AgentMessage{
		SessionID: row.ID,
		Role:      models.AgentMessageRoleUser,
		Content:   prompt,
	}); err != nil {
		m.logger.Warn("failed to persist one-shot prompt", zap.Error(err))
	}
	if err := m.repo.AddAgentMessage(ctx, &models.AgentMessage{
		SessionID: row.ID,
		Role:      models.AgentMessageRoleAssistant,
		Content:   output,
	}); err != nil {
		m.logger.Warn("failed to persist one-shot output", zap.Error(err))
	}
	if err := m.repo.EndAgentSession(ctx, row.ID, "one-shot"); err != nil {
		m.logger.Warn("failed to close one-shot session", zap.Error(err))
	}
}
