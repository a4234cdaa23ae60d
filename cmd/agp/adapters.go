package main

import (
	"context"
	"sort"

	"github.com/agpstudio/agp/internal/agent/session"
	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/settings"
)

// SettingsReader is the slice of the settings service the asker needs.
type SettingsReader interface {
	GetAll(maskSecrets bool) (*settings.Settings, error)
}

// oneShotAskerAdapter adapts the session manager's AskOneShot to the
// context service's asker interface, which has no notion of providers.
type oneShotAskerAdapter struct {
	sessions *session.Manager
	settings SettingsReader
}

func newOneShotAsker(sessions *session.Manager, settingsSvc SettingsReader) *oneShotAskerAdapter {
	return &oneShotAskerAdapter{sessions: sessions, settings: settingsSvc}
}

// Ask runs the prompt through the default one-shot provider.
func (a *oneShotAskerAdapter) Ask(ctx context.Context, projectID, projectDir, prompt string) (string, error) {
	cfg, err := a.settings.GetAll(false)
	if err != nil {
		return "", err
	}
	name, err := pickOneShotProvider(cfg.Providers)
	if err != nil {
		return "", err
	}
	return a.sessions.AskOneShot(ctx, projectID, projectDir, name, prompt)
}

// pickOneShotProvider chooses the provider used for out-of-session asks:
// gemini when it supports one-shot, otherwise the first configured
// provider with a one-shot flag, in name order.
func pickOneShotProvider(providers map[string]settings.Provider) (string, error) {
	if p, ok := providers["gemini"]; ok && p.OneShotFlag != "" {
		return "gemini", nil
	}

	names := make([]string, 0, len(providers))
	for name, p := range providers {
		if p.OneShotFlag != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", apperr.ConfigInvalid("no provider with a one-shot flag is configured")
	}
	sort.Strings(names)
	return names[0], nil
}
