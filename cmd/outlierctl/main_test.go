package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	flags := []bool{true, false, true, true, false}
	s := score(flags, []int{0, 1, 3})
	assert.Equal(t, 3, s.Flagged)
	assert.Equal(t, 2, s.Found)
	assert.Equal(t, 1, s.FalsePositives)
	assert.Equal(t, []int{1}, s.Missed)
	assert.InDelta(t, 2.0/3.0, s.Recall, 1e-12)

	empty := score([]bool{false, false}, nil)
	assert.Equal(t, 1.0, empty.Recall)
	assert.Zero(t, empty.Flagged)
}

func TestLocalMode(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--mode", "local", "--n", "90", "--seed", "4", "--method", "local"})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "method=local")
	assert.Contains(t, text, "injected=9")
	assert.True(t, strings.Contains(text, "recall="))
}

func TestUnknownMode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--mode", "carrier-pigeon"})
	assert.ErrorContains(t, cmd.Execute(), "unknown mode")
}
