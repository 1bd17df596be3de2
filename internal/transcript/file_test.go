package transcript

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func TestFileSinkAppendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	s := NewFileSink(path)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, entry("s1", RoleUser, fmt.Sprintf("line %d", i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Append(ctx, entry("other", RoleAssistant, "unrelated")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Recent(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Text != "line 0" || got[2].Text != "line 2" {
		t.Fatalf("order wrong: %+v", got)
	}
}

func TestFileSinkRecentLimitKeepsNewest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	s := NewFileSink(path)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, entry("s1", RoleUser, fmt.Sprintf("line %d", i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "line 3" || got[1].Text != "line 4" {
		t.Fatalf("got %+v", got)
	}
}

func TestFileSinkRecentMissingFileIsEmpty(t *testing.T) {
	s := NewFileSink(filepath.Join(t.TempDir(), "never-written.jsonl"))

	got, err := s.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestFileSinkSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	ctx := context.Background()

	first := NewFileSink(path)
	if err := first.Append(ctx, entry("s1", RoleUser, "before restart")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	second := NewFileSink(path)
	got, err := second.Recent(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Text != "before restart" {
		t.Fatalf("got %+v", got)
	}
}
