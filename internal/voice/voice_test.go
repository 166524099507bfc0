package voice

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/resonance/internal/gate"
)

func TestBuiltin(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 4)
	assert.Equal(t, "green-godmother", all[0].ID)

	v, err := reg.Lookup("green-godmother")
	require.NoError(t, err)
	assert.Equal(t, Substance, v.Type)
	assert.Equal(t, "Green Godmother", v.Name())
	assert.Equal(t, 14*24*time.Hour, v.Pattern.Window)
	assert.Equal(t, 48*time.Hour, v.Gate.MinimumInterval)
	assert.Equal(t, "murmur", v.ModeTable().Default)
	assert.True(t, v.Analyzer.Config().Matches("Cannabis"))

	hermit, err := reg.Lookup("the-hermit")
	require.NoError(t, err)
	assert.Equal(t, 1, hermit.Gate.MaxPerRollingWeek)

	wanderer, err := reg.Lookup("the-wanderer")
	require.NoError(t, err)
	assert.Equal(t, gate.DefaultBaseProbability, wanderer.Gate.BaseProbability, "unset gate params take defaults")
}

func TestSelect_UnknownIsConfigurationError(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	voices, errs := reg.Select([]string{"the-ember", "ghost"})
	require.Len(t, voices, 1)
	assert.Equal(t, "the-ember", voices[0].ID)
	require.Len(t, errs, 1)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(errs[0], &cfgErr))
	assert.Equal(t, "ghost", cfgErr.ID)

	voices, errs = reg.Select(nil)
	assert.Len(t, voices, 4)
	assert.Empty(t, errs)
}

const minimalVoice = `
voices:
  - id: tea
    type: substance
    persona: a kettle
    pattern:
      aliases: [tea]
      window: 72h
      detectors:
        - name: more
          kind: frequency_increase
    changeFlags: [%s]
    modes:
      - name: hum
        when:
          any: [%s]
        style: hum
        exemplars: ["hmm"]
      - name: idle
        style: idle
        exemplars: ["..."]
    defaultMode: idle
`

func voiceDoc(changeFlag, trigger string) string {
	s := strings.Replace(minimalVoice, "%s", changeFlag, 1)
	return strings.Replace(s, "%s", trigger, 1)
}

func TestLoad_Validation(t *testing.T) {
	reg, err := Load(strings.NewReader(voiceDoc("more", "more")))
	require.NoError(t, err)
	v, err := reg.Lookup("tea")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, v.Pattern.Window)

	_, err = Load(strings.NewReader(voiceDoc("less", "more")))
	assert.ErrorContains(t, err, "change flag")

	_, err = Load(strings.NewReader(voiceDoc("more", "less")))
	assert.ErrorContains(t, err, "unknown detector")

	_, err = Load(strings.NewReader("voices:\n  - id: x\n    type: robot\n"))
	assert.ErrorContains(t, err, "unknown type")

	_, err = Load(strings.NewReader("voices:\n  - id: x\n    colour: red\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(voiceDoc("more", "more")), 0644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, reg.All(), 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
