package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorResult(t *testing.T) {
	r := ErrorResult("something broke")
	assert.Equal(t, "something broke", r.ForLLM)
	assert.True(t, r.IsError)
	assert.False(t, r.Silent)
}

func TestSilentResult(t *testing.T) {
	r := SilentResult("already shown")
	assert.Equal(t, "already shown", r.ForLLM)
	assert.False(t, r.IsError)
	assert.True(t, r.Silent)
}

func TestSuccessResult(t *testing.T) {
	r := SuccessResult("done")
	assert.Equal(t, "done", r.ForLLM)
	assert.False(t, r.IsError)
	assert.False(t, r.Silent)
}
