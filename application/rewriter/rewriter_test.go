package rewriter

import (
	"errors"
	"testing"

	"tunnelcore/application/logging"
)

func TestChainPassthroughWhenNoRewriters(t *testing.T) {
	c := NewChain(logging.Nop{})
	in := []byte{1, 2, 3}
	if got := c.Apply(in); string(got) != string(in) {
		t.Fatalf("got %v, want %v", got, in)
	}
}

func TestChainAppliesReplacementInOrder(t *testing.T) {
	c := NewChain(logging.Nop{},
		func(raw []byte) ([]byte, error) { return append(raw, 'a'), nil },
		func(raw []byte) ([]byte, error) { return append(raw, 'b'), nil },
	)
	got := c.Apply([]byte("x"))
	if string(got) != "xab" {
		t.Fatalf("got %q, want %q", got, "xab")
	}
}

// TestChainErrorKeepsLastSuccessfulPayload covers §8 property 6: a rewriter
// that errors leaves the forwarded payload equal to the last successful
// value, never propagating the failure.
func TestChainErrorKeepsLastSuccessfulPayload(t *testing.T) {
	original := []byte("payload")
	c := NewChain(logging.Nop{}, func([]byte) ([]byte, error) {
		return nil, errors.New("boom")
	})
	got := c.Apply(original)
	if string(got) != string(original) {
		t.Fatalf("got %q, want unchanged %q", got, original)
	}
}

func TestChainErrorMidSequenceKeepsPriorResult(t *testing.T) {
	c := NewChain(logging.Nop{},
		func(raw []byte) ([]byte, error) { return append(raw, 'a'), nil },
		func([]byte) ([]byte, error) { return nil, errors.New("boom") },
		func(raw []byte) ([]byte, error) { return append(raw, 'c'), nil },
	)
	got := c.Apply([]byte("x"))
	if string(got) != "xac" {
		t.Fatalf("got %q, want %q", got, "xac")
	}
}

func TestChainAppend(t *testing.T) {
	c := NewChain(logging.Nop{})
	c.Append(func(raw []byte) ([]byte, error) { return append(raw, '!'), nil })
	got := c.Apply([]byte("hi"))
	if string(got) != "hi!" {
		t.Fatalf("got %q, want %q", got, "hi!")
	}
}
