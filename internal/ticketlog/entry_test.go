package ticketlog

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{"valid", Entry{ID: "1", Kind: KindFire, Payload: json.RawMessage(`{"table":"12"}`)}, false},
		{"noPayload", Entry{ID: "1", Kind: KindOpenTable}, false},
		{"missingID", Entry{Kind: KindFire}, true},
		{"missingKind", Entry{ID: "1"}, true},
		{"badPayload", Entry{ID: "1", Kind: KindFire, Payload: json.RawMessage(`{`)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr != errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEntryJSONKeepsPayload(t *testing.T) {
	e := Entry{
		ID:        "1",
		Kind:      KindVoidItem,
		Area:      "main",
		Table:     "12",
		Payload:   json.RawMessage(`{"sku":"BURG"}`),
		CreatedAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var got Entry
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != `{"sku":"BURG"}` || got.Kind != KindVoidItem || !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("got %+v", got)
	}
}
