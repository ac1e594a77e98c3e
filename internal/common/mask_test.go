package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "[REDACTED]", MaskSecret(""))
	assert.Equal(t, "[REDACTED]", MaskSecret("abc"))

	masked := MaskSecret("correct-horse-battery")
	assert.Equal(t, "co******", masked)
	assert.False(t, strings.Contains(masked, "horse"))
}

func TestMaskLogin(t *testing.T) {
	assert.Equal(t, "[REDACTED]", MaskLogin("ab"))
	assert.Equal(t, "iva***a", MaskLogin("ivanova"))
}
