package patient

import (
	"reflect"
	"testing"
)

func TestCatchment_AllIDs(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		want []string
	}{
		{
			name: "district only",
			addr: Address{DivisionID: "10", DistrictID: "20"},
			want: []string{"A10B20"},
		},
		{
			name: "full rural path",
			addr: Address{DivisionID: "10", DistrictID: "20", UpazilaID: "30", UnionOrUrbanWardID: "40", RuralWardID: "50"},
			want: []string{"A10B20C30E40F50", "A10B20C30E40", "A10B20C30", "A10B20"},
		},
		{
			name: "city corporation",
			addr: Address{DivisionID: "10", DistrictID: "20", UpazilaID: "30", CityCorporationID: "60"},
			want: []string{"A10B20C30D60", "A10B20C30", "A10B20"},
		},
		{
			name: "no district",
			addr: Address{DivisionID: "10"},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.addr.Catchment().AllIDs()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCatchment_IDIsMostSpecific(t *testing.T) {
	c := Address{DivisionID: "10", DistrictID: "20", UpazilaID: "30"}.Catchment()
	if c.ID() != "A10B20C30" {
		t.Errorf("expected A10B20C30, got %s", c.ID())
	}
	if c.Level() != 3 {
		t.Errorf("expected level 3, got %d", c.Level())
	}
	if c.ID() != c.AllIDs()[0] {
		t.Error("ID must be the first of AllIDs")
	}
}

func TestCatchment_Equal(t *testing.T) {
	a := NewCatchment("10", "20", "30")
	b := Address{DivisionID: "10", DistrictID: "20", UpazilaID: "30", AddressLine: "elsewhere"}.Catchment()
	if !a.Equal(b) {
		t.Error("expected equal catchments")
	}
	if a.Equal(NewCatchment("10", "20")) {
		t.Error("different depths must not be equal")
	}
}

func TestParseCatchment(t *testing.T) {
	tests := []struct {
		code    string
		want    string
		wantErr bool
	}{
		{code: "1020", want: "A10B20"},
		{code: "102030", want: "A10B20C30"},
		{code: "A10B20C30", want: "A10B20C30"},
		{code: "A10B20E40", want: "A10B20E40"},
		{code: " 1020 ", want: "A10B20"},
		{code: "", wantErr: true},
		{code: "10", wantErr: true},
		{code: "102", wantErr: true},
		{code: "10x0", wantErr: true},
		{code: "10203040506070", wantErr: true},
		{code: "A10", wantErr: true},
		{code: "A10C30", wantErr: true},
		{code: "B20A10", wantErr: true},
		{code: "A1B20", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c, err := ParseCatchment(tt.code)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", c)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.ID() != tt.want {
				t.Errorf("got %s, want %s", c.ID(), tt.want)
			}
		})
	}
}

func TestParseCatchment_MatchesAddressCatchment(t *testing.T) {
	addr := Address{DivisionID: "10", DistrictID: "20", UpazilaID: "30"}
	parsed, err := ParseCatchment("102030")
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(addr.Catchment()) {
		t.Errorf("expected %s, got %s", addr.Catchment(), parsed)
	}
}
