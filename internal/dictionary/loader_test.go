package dictionary

import (
	"errors"
	"strings"
	"testing"

	"github.com/curatelab/crossmap/internal/domain"
)

func testLoader() *Loader {
	return NewLoader("id", []string{"label", "description"}, []string{"unit"}, nil)
}

func TestLoad_HappyPath(t *testing.T) {
	csv := `id,label,description,unit
1,age,age at enrollment,years
2,height,standing height,cm
`
	records, err := testLoader().Load(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	r := records[0]
	if r.ID != "1" || r.Fields["label"] != "age" || r.Fields["description"] != "age at enrollment" {
		t.Errorf("record %+v", r)
	}
	if r.Metadata["unit"] != "years" {
		t.Errorf("metadata %v, want unit=years", r.Metadata)
	}
}

func TestLoad_DropsRowWithoutID(t *testing.T) {
	csv := `id,label,description,unit
1,age,age at enrollment,years
,height,standing height,cm
`
	records, err := testLoader().Load(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "1" {
		t.Errorf("records %+v, want only id 1", records)
	}
}

func TestLoad_DropsRowWithEmptyEmbedColumn(t *testing.T) {
	csv := `id,label,description,unit
1,age,age at enrollment,years
2,height,,cm
3,,body weight,kg
`
	records, err := testLoader().Load(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "1" {
		t.Errorf("records %+v, want only the complete row", records)
	}
}

func TestLoad_KeepsRowWithEmptyMetadata(t *testing.T) {
	csv := `id,label,description,unit
1,age,age at enrollment,
`
	records, err := testLoader().Load(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (empty metadata is not a drop)", len(records))
	}
}

func TestLoad_DuplicateIDIsError(t *testing.T) {
	csv := `id,label,description,unit
1,age,age at enrollment,years
1,height,standing height,cm
`
	_, err := testLoader().Load(strings.NewReader(csv))
	if err == nil {
		t.Fatal("expected error on duplicate id")
	}
}

func TestLoad_MissingConfiguredColumn(t *testing.T) {
	csv := `id,label,unit
1,age,years
`
	_, err := testLoader().Load(strings.NewReader(csv))
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig on missing column, got %v", err)
	}
}

func TestLoad_RaggedRowTreatedAsEmpty(t *testing.T) {
	csv := `id,label,description,unit
1,age,age at enrollment
`
	records, err := testLoader().Load(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The missing trailing cell is metadata, so the row survives.
	if len(records) != 1 || records[0].Metadata["unit"] != "" {
		t.Errorf("records %+v", records)
	}
}
