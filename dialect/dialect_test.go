package dialect

import (
	"errors"
	"strings"
	"testing"
)

func TestParseTableName_AcceptedForms(t *testing.T) {
	cases := []struct {
		in         string
		wantSchema string
		wantTable  string
	}{
		{"[dbo].[DimCustomer]", "dbo", "DimCustomer"},
		{"[DimCustomer]", "", "DimCustomer"},
		{"DimCustomer", "", "DimCustomer"},
		{"  [stg].[assurance]  ", "stg", "assurance"},
		{"_staging", "", "_staging"},
	}

	for _, c := range cases {
		got, err := ParseTableName(c.in)
		if err != nil {
			t.Fatalf("ParseTableName(%q): %v", c.in, err)
		}
		if got.Schema != c.wantSchema || got.Table != c.wantTable {
			t.Fatalf("ParseTableName(%q) = %+v, want schema=%q table=%q", c.in, got, c.wantSchema, c.wantTable)
		}
	}
}

func TestParseTableName_RejectedForms(t *testing.T) {
	// Dotted names without brackets are rejected rather than split: a dot
	// can legally appear inside a quoted identifier, so callers must write
	// [schema].[table] explicitly.
	cases := []string{
		"",
		"   ",
		"dbo.DimCustomer",
		"[dbo].DimCustomer",
		"dbo.[DimCustomer]",
		"[dbo].[a].[b]",
		"[bad-name]",
		"[dbo].[bad name]",
		"[1table]",
		"bad-name",
		"[]",
	}

	for _, c := range cases {
		_, err := ParseTableName(c)
		if err == nil {
			t.Fatalf("ParseTableName(%q): expected error, got nil", c)
		}
		var ie *InvalidIdentifierError
		if !errors.As(err, &ie) {
			t.Fatalf("ParseTableName(%q): expected InvalidIdentifierError, got %T", c, err)
		}
	}
}

func TestParseTableName_ErrorNamesInput(t *testing.T) {
	_, err := ParseTableName("dbo.DimCustomer")
	if err == nil {
		t.Fatalf("expected error for dotted name without brackets")
	}
	if !strings.Contains(err.Error(), "dbo.DimCustomer") {
		t.Fatalf("error should name the offending input, got: %v", err)
	}
	if !strings.Contains(err.Error(), "not in the format") {
		t.Fatalf("error should describe the expected format, got: %v", err)
	}
}

func TestValidIdent(t *testing.T) {
	valid := []string{"a", "A_1", "_x", "Assurance_Cd", "col9"}
	invalid := []string{"", "1a", "a-b", "a b", "a;b", "a.b", "col]"}

	for _, s := range valid {
		if !ValidIdent(s) {
			t.Fatalf("ValidIdent(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if ValidIdent(s) {
			t.Fatalf("ValidIdent(%q) = true, want false", s)
		}
	}
}

func TestValidColumns_ReportsFirstOffender(t *testing.T) {
	err := ValidColumns([]string{"ok", "still_ok", "not ok", "also bad"})
	if err == nil {
		t.Fatalf("expected error for invalid column")
	}
	var ie *InvalidIdentifierError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidIdentifierError, got %T", err)
	}
	if ie.Input != "not ok" {
		t.Fatalf("expected first offender %q, got %q", "not ok", ie.Input)
	}
}

func TestTableNameString(t *testing.T) {
	if got := (TableName{Schema: "dbo", Table: "t"}).String(); got != "dbo.t" {
		t.Fatalf("String() = %q, want dbo.t", got)
	}
	if got := (TableName{Table: "t"}).String(); got != "t" {
		t.Fatalf("String() = %q, want t", got)
	}
}

type stubDialect struct {
	Dialect
	name string
}

func (s stubDialect) Name() string { return s.name }

func TestRegisterAndLookup(t *testing.T) {
	Register(stubDialect{name: "stub-a"})

	d, err := Lookup("stub-a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if d.Name() != "stub-a" {
		t.Fatalf("expected stub-a, got %q", d.Name())
	}

	if _, err := Lookup("nope"); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
	if _, err := Lookup(""); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	Register(stubDialect{name: "stub-dup"})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register(stubDialect{name: "stub-dup"})
}

func TestRegister_NilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on nil dialect")
		}
	}()
	Register(nil)
}
