package datastore

import "testing"

func TestBatches(t *testing.T) {
	rows := make([]Row, 250)
	for i := range rows {
		rows[i] = Row{"id": i}
	}

	tests := []struct {
		size int
		want []int
	}{
		{100, []int{100, 100, 50}},
		{0, []int{100, 100, 50}},
		{250, []int{250}},
		{1000, []int{250}},
	}
	for _, tt := range tests {
		batches := Batches(rows, tt.size)
		if len(batches) != len(tt.want) {
			t.Fatalf("Batches(%d) = %d batches, want %d", tt.size, len(batches), len(tt.want))
		}
		for i, b := range batches {
			if len(b) != tt.want[i] {
				t.Errorf("Batches(%d)[%d] has %d rows, want %d", tt.size, i, len(b), tt.want[i])
			}
		}
	}

	if got := Batches(nil, 10); len(got) != 0 {
		t.Errorf("Batches(nil) = %v, want none", got)
	}
}

func TestValidTable(t *testing.T) {
	tests := map[string]bool{
		"daily_kpis":       true,
		"Guide_Logs2":      true,
		"":                 false,
		"../etc":           false,
		"a b":              false,
		"kpis;drop":        false,
		"distribuciones_x": true,
	}
	for name, want := range tests {
		if got := ValidTable(name); got != want {
			t.Errorf("ValidTable(%q) = %v, want %v", name, got, want)
		}
	}
}
