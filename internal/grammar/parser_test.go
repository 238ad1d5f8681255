package grammar

import (
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantUnits int
		wantText  []string
		wantProbs []float64
	}{
		{
			name:      "single block",
			raw:       "<response><text>hello</text><probability>0.8</probability></response>",
			wantUnits: 1,
			wantText:  []string{"hello"},
			wantProbs: []float64{0.8},
		},
		{
			name: "multiple blocks in document order",
			raw: "<response><text>first</text><probability>0.1</probability></response>\n" +
				"<response><text>second</text><probability>0.2</probability></response>\n" +
				"<response><text>third</text><probability>0.3</probability></response>",
			wantUnits: 3,
			wantText:  []string{"first", "second", "third"},
			wantProbs: []float64{0.1, 0.2, 0.3},
		},
		{
			name: "whitespace between elements",
			raw: `<response>
  <text>  padded  </text>
  <probability> 0.5 </probability>
</response>`,
			wantUnits: 1,
			wantText:  []string{"padded"},
			wantProbs: []float64{0.5},
		},
		{
			name:      "empty input",
			raw:       "",
			wantUnits: 0,
		},
		{
			name:      "no markers at all",
			raw:       "just some prose with no structure",
			wantUnits: 0,
		},
		{
			name:      "unclosed block yields nothing",
			raw:       "<response><text>dangling</text><probability>0.4</probability>",
			wantUnits: 0,
		},
		{
			name: "unclosed block recovers at next close marker",
			raw: "<response><text>broken</text>" +
				"<response><text>intact</text><probability>0.6</probability></response>",
			wantUnits: 1,
			wantText:  []string{"broken"},
			wantProbs: []float64{0.6},
		},
		{
			name:      "missing text element skips the block",
			raw:       "<response><probability>0.9</probability></response>",
			wantUnits: 0,
		},
		{
			name:      "binary garbage",
			raw:       string([]byte{0x00, 0xff, 0xfe, 0x01}) + "<response>\x00</response>",
			wantUnits: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if len(got.Units) != tt.wantUnits {
				t.Fatalf("Parse() returned %d units, want %d", len(got.Units), tt.wantUnits)
			}
			for i, want := range tt.wantText {
				if got.Units[i].Text != want {
					t.Errorf("unit %d text = %q, want %q", i, got.Units[i].Text, want)
				}
			}
			for i, want := range tt.wantProbs {
				if got.Units[i].Probability != want {
					t.Errorf("unit %d probability = %v, want %v", i, got.Units[i].Probability, want)
				}
			}
		})
	}
}

func TestParseNonNumericProbability(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"words", "<response><text>abc</text><probability>high</probability></response>"},
		{"empty element", "<response><text>abc</text><probability></probability></response>"},
		{"missing element", "<response><text>abc</text></response>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if len(got.Units) != 1 {
				t.Fatalf("Parse() returned %d units, want 1", len(got.Units))
			}
			if !math.IsNaN(got.Units[0].Probability) {
				t.Errorf("probability = %v, want NaN", got.Units[0].Probability)
			}
		})
	}
}

func TestParseTagBalance(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantBalanced bool
	}{
		{"balanced", "<response><text>x</text><probability>0.1</probability></response>", true},
		{"missing close", "<response><text>x</text><probability>0.1</probability>", false},
		{"stray close", "</response><response><text>x</text><probability>0.1</probability></response>", false},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if got.Balanced() != tt.wantBalanced {
				t.Errorf("Balanced() = %v, want %v (open=%d close=%d)",
					got.Balanced(), tt.wantBalanced, got.OpenTags, got.CloseTags)
			}
		})
	}
}
