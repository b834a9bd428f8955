package query

import (
	"errors"
	"testing"

	"github.com/curatelab/crossmap/internal/domain"
)

func TestAssemble_EverySpecKeyed(t *testing.T) {
	specs := []domain.QuerySpec{
		{Name: "labels"},
		{Name: "descriptions"},
		{Name: "units"},
	}
	matches := map[string][]domain.RankedMatch{
		"labels": {{ID: "7", Rank: 1}},
	}

	res := Assemble("42", specs, matches, nil)
	if res.RecordID != "42" {
		t.Errorf("record id %q", res.RecordID)
	}
	if len(res.Matches) != 3 {
		t.Fatalf("got %d keys, want every spec keyed", len(res.Matches))
	}
	for _, spec := range specs[1:] {
		m, ok := res.Matches[spec.Name]
		if !ok {
			t.Errorf("spec %q absent from result", spec.Name)
		}
		if m == nil {
			t.Errorf("spec %q has nil matches, want empty slice", spec.Name)
		}
	}
}

func TestAssemble_FailedSpecStillKeyed(t *testing.T) {
	specs := []domain.QuerySpec{{Name: "labels"}, {Name: "descriptions"}}
	failErr := errors.New("collection missing")

	res := Assemble("42", specs,
		map[string][]domain.RankedMatch{"labels": {{ID: "7", Rank: 1}}},
		map[string]error{"descriptions": failErr})

	if got := res.Matches["descriptions"]; got == nil || len(got) != 0 {
		t.Errorf("failed spec matches %v, want empty slice", got)
	}
	if !errors.Is(res.Failed["descriptions"], failErr) {
		t.Errorf("failed map %v", res.Failed)
	}
	if len(res.Matches["labels"]) != 1 {
		t.Error("healthy spec affected by another spec's failure")
	}
}

func TestAssemble_NoFailures(t *testing.T) {
	res := Assemble("42", []domain.QuerySpec{{Name: "labels"}}, nil, nil)
	if res.Failed != nil {
		t.Errorf("failed map %v, want nil", res.Failed)
	}
}
