package domain

import (
	"encoding/json"
	"fmt"
)

// Correctness is the scoring state of an answer.
type Correctness int

const (
	Pending Correctness = iota
	Correct
	Incorrect
)

// Judge compares an answer value with a question's correct answer.
// Comparison is exact: case and whitespace matter.
func Judge(value string, correctAnswer *string) Correctness {
	if correctAnswer == nil {
		return Pending
	}
	if value == *correctAnswer {
		return Correct
	}
	return Incorrect
}

func (c Correctness) String() string {
	switch c {
	case Pending:
		return "pending"
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	default:
		return fmt.Sprintf("Correctness(%d)", int(c))
	}
}

// Scored reports whether the answer has been judged.
func (c Correctness) Scored() bool {
	return c == Correct || c == Incorrect
}

// Bool converts to the nullable form used by storage and the wire.
func (c Correctness) Bool() *bool {
	switch c {
	case Correct:
		v := true
		return &v
	case Incorrect:
		v := false
		return &v
	default:
		return nil
	}
}

func CorrectnessFromBool(b *bool) Correctness {
	switch {
	case b == nil:
		return Pending
	case *b:
		return Correct
	default:
		return Incorrect
	}
}

func (c Correctness) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Bool())
}

func (c *Correctness) UnmarshalJSON(b []byte) error {
	var v *bool
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("correctness: %w", err)
	}
	*c = CorrectnessFromBool(v)
	return nil
}
