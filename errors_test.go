package carwings

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    FailureKind
		status  int
		message string
	}{
		{"503 is generic", &StatusError{Status: 503}, KindServer, 503, "service unavailable"},
		{"500 shows code", &StatusError{Status: 500}, KindServer, 500, "Server error 500"},
		{"502 shows code", &StatusError{Status: 502}, KindServer, 502, "Server error 502"},
		{"404", &StatusError{Status: 404}, KindClient, 404, "Client error 404"},
		{"wrapped 400", fmt.Errorf("call: %w", &StatusError{Status: 400}), KindClient, 400, "Client error 400"},
		{"plain error", errors.New("dial tcp: connection refused"), KindGeneric, 0, "dial tcp: connection refused"},
		{"empty message", errors.New(" "), KindGeneric, 0, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			require.NotNil(t, f)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.status, f.Status)
			assert.Equal(t, tt.message, f.Error())
			assert.True(t, f.Recoverable())
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, Classify(nil))
	})

	t.Run("failure passes through", func(t *testing.T) {
		in := &Failure{Kind: KindClient, Message: "x", Fatal: true}
		assert.Same(t, in, Classify(fmt.Errorf("wrap: %w", in)))
	})
}

func TestFatal(t *testing.T) {
	base := Classify(&StatusError{Status: 500})
	f := Fatal(base)
	assert.True(t, f.Fatal)
	assert.False(t, base.Fatal, "Fatal must not mutate its input")
	assert.True(t, IsFatal(f))
	assert.False(t, IsFatal(base))
	assert.False(t, IsFatal(errors.New("x")))

	nv := Fatal(ErrNoVehicle)
	assert.True(t, errors.Is(nv, ErrNoVehicle))
	assert.False(t, nv.Recoverable())
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, isCanceled(context.Canceled))
	assert.True(t, isCanceled(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.False(t, isCanceled(errors.New("x")))
}
