package secret

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourcePrefersConfiguredValue(t *testing.T) {
	t.Setenv("ACCESSPAY_TEST_SECRET", "from-env")
	src := NewSource("signing secret", " from-config ", "ACCESSPAY_TEST_SECRET")
	src.prompt = func(string) (string, error) { return "", errors.New("unexpected prompt") }

	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "from-config", value)
}

func TestSourceFallsBackToEnvironment(t *testing.T) {
	t.Setenv("ACCESSPAY_TEST_SECRET", "from-env")
	src := NewSource("signing secret", "", "ACCESSPAY_TEST_SECRET")
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "from-env", value)
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("ACCESSPAY_TEST_SECRET", "  ")
	_, err := NewSource("signing secret", "", "ACCESSPAY_TEST_SECRET").Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsOnceAndCaches(t *testing.T) {
	calls := 0
	src := NewSource("signing secret", "", "")
	src.prompt = func(string) (string, error) {
		calls++
		return "typed", nil
	}
	for i := 0; i < 2; i++ {
		value, err := src.Get()
		require.NoError(t, err)
		require.Equal(t, "typed", value)
	}
	require.Equal(t, 1, calls)
}

func TestSourceRejectsEmptyPrompt(t *testing.T) {
	src := NewSource("signing secret", "", "")
	src.prompt = func(string) (string, error) { return " ", nil }
	_, err := src.Get()
	require.ErrorContains(t, err, "cannot be empty")
}
