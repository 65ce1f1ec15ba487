package credit

import (
	"context"
	"fmt"
	"time"
)

// Numberer assigns the human-readable number of a new credit note.
// The engine calls it while holding its creation lock.
type Numberer interface {
	Next(ctx context.Context, store NoteStore, date time.Time) (string, error)
}

// SequenceNumberer produces PREFIX-YYYY-NNNNN, where NNNNN follows the
// number of notes already in the store.
type SequenceNumberer struct {
	Prefix string
}

func (s SequenceNumberer) Next(ctx context.Context, store NoteStore, date time.Time) (string, error) {
	count, err := store.CountNotes(ctx)
	if err != nil {
		return "", fmt.Errorf("count credit notes: %w", err)
	}
	prefix := s.Prefix
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	return fmt.Sprintf("%s-%04d-%05d", prefix, date.Year(), count+1), nil
}

// NumbererFunc adapts a function to Numberer.
type NumbererFunc func(ctx context.Context, store NoteStore, date time.Time) (string, error)

func (f NumbererFunc) Next(ctx context.Context, store NoteStore, date time.Time) (string, error) {
	return f(ctx, store, date)
}
