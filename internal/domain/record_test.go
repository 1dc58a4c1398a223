package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFields_JSONKeepsDeclarationOrder(t *testing.T) {
	t.Parallel()

	in := `{"zeta":{"type":"string"},"parent":{"type":"relation","collection":"folders"},"alpha":{"type":"datetime","required":true}}`

	var fs Fields
	if err := json.Unmarshal([]byte(in), &fs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"zeta", "parent", "alpha"}
	got := fs.Names()
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}

	out, err := json.Marshal(fs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Errorf("round trip changed output:\n got %s\nwant %s", out, in)
	}
}

func TestFields_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	var fs Fields
	err := json.Unmarshal([]byte(`{"a":{"type":"string"},"a":{"type":"string"}}`), &fs)
	if err == nil {
		t.Fatal("expected error for duplicate field")
	}
}

func TestFields_MergeAndWithout(t *testing.T) {
	t.Parallel()

	base := Fields{
		{Name: "a", Def: FieldDef{Kind: KindString}},
		{Name: "b", Def: FieldDef{Kind: KindString}},
	}
	merged := base.Merge(Fields{
		{Name: "b", Def: FieldDef{Kind: KindDatetime}},
		{Name: "c", Def: FieldDef{Kind: KindString}},
	})

	if got := merged.Names(); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("Merge names = %v, want [a b c]", got)
	}
	if def, _ := merged.Get("b"); def.Kind != KindString {
		t.Errorf("Merge replaced existing field b: %+v", def)
	}
	if len(base) != 2 {
		t.Errorf("Merge modified the receiver: %v", base.Names())
	}

	left := merged.Without([]string{"a", "zzz"})
	if got := left.Names(); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Without names = %v, want [b c]", got)
	}
	if len(merged) != 3 {
		t.Errorf("Without modified the receiver: %v", merged.Names())
	}
}

func TestFieldDef_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		def     FieldDef
		wantErr bool
	}{
		{"string", FieldDef{Kind: KindString}, false},
		{"datetime", FieldDef{Kind: KindDatetime, Required: true}, false},
		{"relation", FieldDef{Kind: KindRelation, Collection: "folders"}, false},
		{"via", FieldDef{Kind: KindRelation, Collection: "docs", Via: "folder"}, false},
		{"unknown kind", FieldDef{Kind: "json"}, true},
		{"relation without collection", FieldDef{Kind: KindRelation}, true},
		{"string with via", FieldDef{Kind: KindString, Via: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.def.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatTime_SortsLexically(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	a := FormatTime(base)
	b := FormatTime(base.Add(time.Microsecond))
	c := FormatTime(base.Add(10 * time.Second))
	if !(a < b && b < c) {
		t.Fatalf("timestamps not ordered: %s %s %s", a, b, c)
	}
	if len(a) != len(c) {
		t.Fatalf("timestamps not fixed width: %q %q", a, c)
	}

	parsed, err := ParseTime(b)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !parsed.Equal(base.Add(time.Microsecond)) {
		t.Errorf("ParseTime = %v", parsed)
	}
}

func TestExpanded_MarshalJSON(t *testing.T) {
	t.Parallel()

	folder := &Record{Collection: "folders", Data: Data{"id": "urn:folders:1@a", "name": "A"}}
	doc := &Record{Collection: "docs", Data: Data{"id": "urn:docs:1@a", "folder": "urn:folders:1@a"}}

	e := NewExpanded(folder)
	e.Expand = map[string]Expansion{
		"docs":   {Many: true, Records: []*Expanded{NewExpanded(doc)}},
		"parent": {},
		"kids":   {Many: true},
	}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got struct {
		ID     string                     `json:"id"`
		Expand map[string]json.RawMessage `json:"expand"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "urn:folders:1@a" {
		t.Errorf("id = %q", got.ID)
	}
	if string(got.Expand["parent"]) != "null" {
		t.Errorf("empty forward expansion = %s, want null", got.Expand["parent"])
	}
	if string(got.Expand["kids"]) != "[]" {
		t.Errorf("empty via expansion = %s, want []", got.Expand["kids"])
	}
	if _, ok := folder.Data["expand"]; ok {
		t.Error("expansion must not leak into record data")
	}
}
