package tariff

import "testing"

func TestParseText_AnnexLayout(t *testing.T) {
	text := `
Municipal Water System
Schedule of Water Rates

Residential      First 3 cu.m.  P15.00    Over 3 cu.m.  P12.00
Commercial       First 3 cu.m.  P25.00    Over 3 cu.m.  P20.00
Institutional    First 3 cu.m.  P18.00    Over 3 cu.m.  P14.50
`
	s, err := ParseText(text)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if len(s.Types) != 3 {
		t.Fatalf("got %d types, want 3", len(s.Types))
	}
	if s.Types[0].Type != "Residential" || s.Types[0].Rate1 != 15 || s.Types[0].Rate2 != 12 {
		t.Errorf("residential = %+v", s.Types[0])
	}
	if s.Types[2].Type != "Institutional" || s.Types[2].Rate2 != 14.5 {
		t.Errorf("institutional = %+v", s.Types[2])
	}
}

func TestParseText_TabularLayout(t *testing.T) {
	text := `
Classification   Rate1   Rate2
Residential      15.00   12.00
Commercial       25.00   20.00
`
	s, err := ParseText(text)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if len(s.Types) != 2 {
		t.Fatalf("got %d types, want 2", len(s.Types))
	}
	if s.Types[1].Type != "Commercial" || s.Types[1].Rate1 != 25 {
		t.Errorf("commercial = %+v", s.Types[1])
	}
}

func TestParseText_NoRates(t *testing.T) {
	if _, err := ParseText("nothing resembling a schedule"); err == nil {
		t.Fatal("expected error for text with no rate lines")
	}
}
