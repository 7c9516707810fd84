package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/export"
	"github.com/23skdu/longbow-lens/internal/lens"
	"github.com/23skdu/longbow-lens/internal/registry"
)

// captureService records the service run builds so the test can inspect
// it after run returns.
func captureService(t *testing.T) **lens.Service {
	t.Helper()
	var svc *lens.Service
	orig := newService
	newService = func(cfg config.Config, loader registry.Loader, exp export.Exporter) (*lens.Service, error) {
		s, err := orig(cfg, loader, exp)
		svc = s
		return s, err
	}
	t.Cleanup(func() { newService = orig })
	return &svc
}

func setFlags(t *testing.T, input, options string) {
	t.Helper()
	oldText, oldOpts, oldTimeout := *text, *optionsJSON, *timeout
	*text, *optionsJSON, *timeout = input, options, time.Minute
	t.Cleanup(func() { *text, *optionsJSON, *timeout = oldText, oldOpts, oldTimeout })
}

func TestRunClosesServiceOnExit(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		options string
		code    int
	}{
		{"success", "the cat sat", `{"return_attention":false}`, 0},
		{"request failure", "bad \xc3\x28", "", 2},
		{"bad options json", "the cat sat", "{", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := captureService(t)
			setFlags(t, tt.input, tt.options)

			assert.Equal(t, tt.code, run())
			require.NotNil(t, *svc)
			assert.Empty(t, (*svc).Status().LoadedModels, "models are unloaded before run returns")
		})
	}
}

func TestRunListModels(t *testing.T) {
	svc := captureService(t)
	*listModels = true
	t.Cleanup(func() { *listModels = false })

	assert.Equal(t, 0, run())
	require.NotNil(t, *svc)
}
