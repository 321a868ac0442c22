package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateModelName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple", input: "note"},
		{name: "with digits and underscore", input: "todo_item2"},
		{name: "empty", input: "", wantErr: true},
		{name: "uppercase", input: "Note", wantErr: true},
		{name: "leading digit", input: "1note", wantErr: true},
		{name: "slash", input: "note/x", wantErr: true},
		{name: "too long", input: "a" + strings.Repeat("b", 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModelName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRecordID(t *testing.T) {
	assert.NoError(t, ValidateRecordID("3f2b6c1e-8a7d-4a55-9d5e-0c1a2b3c4d5e"))
	assert.NoError(t, ValidateRecordID("note-1"))
	assert.Error(t, ValidateRecordID(""))
	assert.Error(t, ValidateRecordID("has space"))
	assert.Error(t, ValidateRecordID(strings.Repeat("x", 129)))
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload([]byte(`{"title":"x"}`)))
	assert.NoError(t, ValidatePayload([]byte(`{}`)))
	assert.Error(t, ValidatePayload(nil))
	assert.Error(t, ValidatePayload([]byte(`[1,2]`)))
	assert.Error(t, ValidatePayload([]byte(`not json`)))
	assert.Error(t, ValidatePayload([]byte(`"string"`)))
}
