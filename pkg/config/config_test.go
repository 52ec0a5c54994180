package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDumpFlags(t *testing.T) {
	t.Parallel()

	flags, err := ParseDumpFlags([]string{"llvm"})
	require.NoError(t, err)
	assert.Equal(t, []DumpFlag{DumpLLVM}, flags)

	// Comma lists, stray whitespace and empty entries are all tolerated.
	flags, err = ParseDumpFlags([]string{"yul,,asm", " evm "})
	require.NoError(t, err)
	assert.Equal(t, []DumpFlag{DumpYul, DumpAssembly, DumpEVM}, flags)

	flags, err = ParseDumpFlags(nil)
	require.NoError(t, err)
	assert.Empty(t, flags)

	_, err = ParseDumpFlags([]string{"wat"})
	assert.ErrorContains(t, err, "unknown dump stage 'wat'")
}

func TestInitializeDumpFlagsFollowsPipelineOrder(t *testing.T) {
	t.Parallel()

	flags := InitializeDumpFlags(true, false, true, false, false, true)
	assert.Equal(t, []DumpFlag{DumpYul, DumpEVM, DumpLLL}, flags)

	assert.Empty(t, InitializeDumpFlags(false, false, false, false, false, false))
}

func TestParseOptimizationLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		want  OptimizationLevel
	}{
		{"0", OptNone},
		{"1", OptLess},
		{"2", OptDefault},
		{"3", OptAggressive},
		{"O0", OptNone},
		{"O3", OptAggressive},
	}
	for _, c := range cases {
		level, err := ParseOptimizationLevel(c.input)
		require.NoError(t, err, "level %q", c.input)
		assert.Equal(t, c.want, level, "level %q", c.input)
	}

	_, err := ParseOptimizationLevel("4")
	assert.ErrorContains(t, err, "unsupported optimization level")
	_, err = ParseOptimizationLevel("fast")
	assert.Error(t, err)
}

func TestOptimizationLevelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "O0", OptNone.String())
	assert.Equal(t, "O1", OptLess.String())
	assert.Equal(t, "O2", OptDefault.String())
	assert.Equal(t, "O3", OptAggressive.String())
}

func TestConfigDefaultsAndAppliers(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	assert.Equal(t, "main", cfg.ModuleName)
	assert.Equal(t, OptDefault, cfg.OptimizationLevelMiddle)
	assert.Equal(t, OptDefault, cfg.OptimizationLevelBack)
	assert.False(t, cfg.HasDumpFlag(DumpLLVM))

	require.NoError(t, cfg.ApplyDumpNames([]string{"llvm,asm"}))
	assert.True(t, cfg.HasDumpFlag(DumpLLVM))
	assert.True(t, cfg.HasDumpFlag(DumpAssembly))
	assert.False(t, cfg.HasDumpFlag(DumpYul))

	require.NoError(t, cfg.ApplyOptimization("O3"))
	assert.Equal(t, OptAggressive, cfg.OptimizationLevelMiddle)
	assert.Equal(t, OptAggressive, cfg.OptimizationLevelBack)

	assert.Error(t, cfg.ApplyOptimization("turbo"))
	assert.Error(t, cfg.ApplyDumpNames([]string{"nope"}))
}
