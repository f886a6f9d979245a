package db

import "testing"

func TestSectorCatalog_Loads(t *testing.T) {
	t.Parallel()

	sectors, err := SectorCatalog()
	if err != nil {
		t.Fatalf("SectorCatalog returned error: %v", err)
	}
	if len(sectors) != 11 {
		t.Fatalf("expected 11 seeded sectors, got %d", len(sectors))
	}
	seen := map[string]bool{}
	for _, sector := range sectors {
		if seen[sector.Slug] {
			t.Fatalf("duplicate sector slug %q", sector.Slug)
		}
		seen[sector.Slug] = true
	}
}

func TestSectorSlug(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"energy":         "energy",
		"  Oil & Gas ":   "energy",
		"Real Estate":    "real-estate",
		"real_estate":    "real-estate",
		"SEMICONDUCTORS": "technology",
		"health   care":  "healthcare",
		"Communications": "telecom",
	}
	for label, want := range cases {
		got, ok := SectorSlug(label)
		if !ok || got != want {
			t.Fatalf("SectorSlug(%q) = %q, %t; want %q", label, got, ok, want)
		}
	}

	if _, ok := SectorSlug("space tourism"); ok {
		t.Fatalf("expected unknown sector to be rejected")
	}
}
