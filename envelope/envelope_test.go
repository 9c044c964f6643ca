package envelope

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func frames(s ...string) [][]byte {
	out := make([][]byte, len(s))
	for i := range s {
		out[i] = []byte(s[i])
	}
	return out
}

func TestSplit(t *testing.T) {
	env, payload, err := Split(frames("c1", "w1", "", "hello", "world"))
	require.NoError(t, err)
	require.Equal(t, frames("c1", "w1"), env)
	require.Equal(t, frames("hello", "world"), payload)
}

func TestSplitEmptyEnvelope(t *testing.T) {
	env, payload, err := Split(frames("", "hello"))
	require.NoError(t, err)
	require.Empty(t, env)
	require.Equal(t, frames("hello"), payload)
}

func TestSplitEmptyPayload(t *testing.T) {
	env, payload, err := Split(frames("c1", ""))
	require.NoError(t, err)
	require.Equal(t, frames("c1"), env)
	require.Empty(t, payload)
}

func TestSplitMissingDelimiter(t *testing.T) {
	_, _, err := Split(frames("c1", "hello"))
	require.ErrorIs(t, err, ErrMissingDelimiter)

	_, _, err = Split(nil)
	require.ErrorIs(t, err, ErrMissingDelimiter)
}

func TestSplitOnlyFirstDelimiter(t *testing.T) {
	// Empty frames inside the payload belong to the payload.
	env, payload, err := Split(frames("c1", "", "a", "", "b"))
	require.NoError(t, err)
	require.Equal(t, frames("c1"), env)
	require.Equal(t, frames("a", "", "b"), payload)
}

func TestJoin(t *testing.T) {
	require.Equal(t, frames("c1", "", "x"), Join(frames("c1"), frames("x")))
	require.Equal(t, frames(""), Join(nil, nil))
}

func TestAppendToSplitEnvelopeDoesNotClobberPayload(t *testing.T) {
	in := frames("c1", "", "payload")
	env, payload, err := Split(in)
	require.NoError(t, err)
	_ = append(env, []byte("extra"))
	require.Equal(t, frames("payload"), payload)
	require.Equal(t, frames("c1", "", "payload"), in)
}

func randomFrame(r *rand.Rand, allowEmpty bool) []byte {
	n := r.Intn(8)
	if !allowEmpty && n == 0 {
		n = 1
	}
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		env := make([][]byte, r.Intn(4))
		for j := range env {
			env[j] = randomFrame(r, false)
		}
		payload := make([][]byte, r.Intn(4))
		for j := range payload {
			payload[j] = randomFrame(r, true)
		}
		require.NoError(t, Validate(env))

		gotEnv, gotPayload, err := Split(Join(env, payload))
		require.NoError(t, err)
		require.Len(t, gotEnv, len(env))
		require.Len(t, gotPayload, len(payload))
		for j := range env {
			require.Equal(t, env[j], gotEnv[j])
		}
		for j := range payload {
			require.Equal(t, payload[j], gotPayload[j])
		}
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(frames("a", "b")))
	require.ErrorIs(t, Validate(frames("a", "")), ErrEmptyAddress)
}

func TestWrapUnwrap(t *testing.T) {
	env := Wrap([]byte("client"), frames("hop"))
	require.Equal(t, frames("client", "hop"), env)

	addr, rest, err := Unwrap(env)
	require.NoError(t, err)
	require.Equal(t, []byte("client"), addr)
	require.Equal(t, frames("hop"), rest)

	_, _, err = Unwrap(nil)
	require.ErrorIs(t, err, ErrEmptyAddress)
}

func BenchmarkSplitJoin(b *testing.B) {
	env := frames("client-identity")
	payload := frames("request body")
	for i := 0; i < b.N; i++ {
		if _, _, err := Split(Join(env, payload)); err != nil {
			b.Fatal(err)
		}
	}
}
