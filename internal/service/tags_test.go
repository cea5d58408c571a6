package service

import (
	"reflect"
	"testing"
)

func TestExtractTags(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  []string
	}{
		{
			name:  "objects styles and categories",
			texts: []string{"A steampunk robot in a forest"},
			want:  []string{"robot", "forest", "steampunk", "sci-fi", "nature"},
		},
		{
			name:  "tags drawn across texts",
			texts: []string{"a robot", "a glowing castle"},
			want:  []string{"robot", "castle", "glowing", "sci-fi", "fantasy"},
		},
		{
			name:  "substring matches count",
			texts: []string{"a sunset over the ocean"},
			want:  []string{"ocean", "sunset", "sun"},
		},
		{
			name:  "case insensitive and deduplicated",
			texts: []string{"ROBOT robot Robot"},
			want:  []string{"robot", "sci-fi"},
		},
		{
			name:  "mood words",
			texts: []string{"a peaceful and majestic mountain"},
			want:  []string{"mountain", "peaceful", "majestic", "nature"},
		},
		{
			name:  "no lexicon hits",
			texts: []string{"something entirely unrelated"},
			want:  nil,
		},
		{
			name:  "empty input",
			texts: nil,
			want:  nil,
		},
		{
			name:  "blank strings ignored",
			texts: []string{"", ""},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTags(tt.texts...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractTags(%q) = %v, want %v", tt.texts, got, tt.want)
			}
		})
	}
}

func TestExtractTags_Cap(t *testing.T) {
	text := "robot dragon castle forest city mountain ocean space planet car ship"

	got := extractTags(text)
	if len(got) != maxTags {
		t.Fatalf("len = %d, want %d", len(got), maxTags)
	}
	want := []string{"robot", "dragon", "castle", "forest", "city", "mountain", "ocean", "space", "planet", "car"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("extractTags() = %v, want first %d matches in lexicon order %v", got, maxTags, want)
	}
}

func TestExtractTags_Deterministic(t *testing.T) {
	text := "a mysterious glowing dragon above a medieval city at night"
	first := extractTags(text)
	for i := 0; i < 5; i++ {
		if next := extractTags(text); !reflect.DeepEqual(first, next) {
			t.Fatalf("run %d differs: %v vs %v", i, next, first)
		}
	}
}
