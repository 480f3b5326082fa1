package record

import (
	"reflect"
	"testing"
)

func TestNewDocument(t *testing.T) {
	tests := []struct {
		name       string
		rec        Record
		wantID     string
		wantMeta   map[string]any
		wantFilter Filter
	}{
		{
			name: "fully populated record",
			rec: Record{
				ID:        1,
				Title:     "His mother had always taught him",
				Body:      "He'd tried to live by this motto.",
				Tags:      []string{"history", "american", "crime"},
				Reactions: map[string]int{"likes": 192, "dislikes": 25},
				Views:     305,
				UserID:    121,
			},
			wantID: "post_1",
			wantMeta: map[string]any{
				"tags":      []string{"history", "american", "crime"},
				"reactions": map[string]int{"likes": 192, "dislikes": 25},
				"views":     305,
			},
			wantFilter: Filter{"user_id": 121},
		},
		{
			name: "absent optionals default to empty",
			rec: Record{
				ID:    7,
				Title: "T",
				Body:  "B",
			},
			wantID: "post_7",
			wantMeta: map[string]any{
				"tags":      []string{},
				"reactions": map[string]int{},
				"views":     0,
			},
			wantFilter: Filter{"user_id": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, filter := NewDocument(tt.rec)

			if doc.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", doc.ID, tt.wantID)
			}
			if doc.Name != tt.rec.Title {
				t.Errorf("Name = %q, want %q", doc.Name, tt.rec.Title)
			}
			if doc.Content != tt.rec.Body {
				t.Errorf("Content = %q, want %q", doc.Content, tt.rec.Body)
			}
			if !reflect.DeepEqual(doc.Metadata, tt.wantMeta) {
				t.Errorf("Metadata = %#v, want %#v", doc.Metadata, tt.wantMeta)
			}
			if !reflect.DeepEqual(filter, tt.wantFilter) {
				t.Errorf("Filter = %#v, want %#v", filter, tt.wantFilter)
			}
		})
	}
}
