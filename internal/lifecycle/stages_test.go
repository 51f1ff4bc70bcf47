package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type startStopper struct{}

func (startStopper) Start(context.Context) error   { return nil }
func (startStopper) Stop(context.Context) error    { return nil }
func (startStopper) Dispose(context.Context) error { return nil }

type explicit struct{ startStopper }

func (explicit) Stages() Stages {
	return Stages{Initialize: func(context.Context) error { return nil }}
}

func TestStagesFor_OptionalInterfaces(t *testing.T) {
	s := StagesFor(startStopper{})
	assert.Equal(t, []Stage{StageStart, StageStop, StageDispose}, s.Supported())

	assert.Empty(t, StagesFor(struct{}{}).Supported())
}

func TestStagesFor_ExplicitProviderWins(t *testing.T) {
	s := StagesFor(explicit{})
	assert.Equal(t, []Stage{StageInitialize}, s.Supported())
}

func TestConfiguration_Getters(t *testing.T) {
	cfg := Configuration{
		"name":    "clock",
		"size":    float64(4),
		"enabled": "true",
		"tick":    "250ms",
		"nested":  map[string]interface{}{"depth": 2},
	}

	assert.Equal(t, "clock", cfg.String("name", ""))
	assert.Equal(t, "fallback", cfg.String("missing", "fallback"))
	assert.Equal(t, 4, cfg.Int("size", 0))
	assert.True(t, cfg.Bool("enabled", false))
	assert.Equal(t, 250*time.Millisecond, cfg.Duration("tick", time.Second))
	assert.Equal(t, 2, cfg.Child("nested").Int("depth", 0))
	assert.Empty(t, cfg.Child("missing"))
}
