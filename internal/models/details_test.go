package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetailsPerKind(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"event", `{"kind":"event","event":{"attendees":20}}`, false},
		{"catering", `{"kind":"catering","catering":{"people":12,"menu_id":3}}`, false},
		{"restaurant", `{"kind":"restaurant","restaurant":{"table_id":4,"guests":2}}`, false},
		{"property", `{"kind":"property","property":{"guests":2,"nights":3}}`, false},
		{"event without attendees", `{"kind":"event","event":{"attendees":0}}`, true},
		{"catering missing variant", `{"kind":"catering"}`, true},
		{"restaurant without table", `{"kind":"restaurant","restaurant":{"guests":2}}`, true},
		{"property zero nights", `{"kind":"property","property":{"guests":2,"nights":0}}`, true},
		{"unknown kind", `{"kind":"spa"}`, true},
		{"malformed json", `{"kind":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDetails(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, d.Kind)
		})
	}
}

func TestParseDetailsEmpty(t *testing.T) {
	_, err := ParseDetails(nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEncodeRoundTrip(t *testing.T) {
	d := &BookingDetails{
		Kind:       DetailsKindRestaurant,
		Restaurant: &RestaurantDetails{TableID: 4, Guests: 2},
	}

	raw, err := d.Encode()
	require.NoError(t, err)

	parsed, err := ParseDetails(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(4), parsed.Restaurant.TableID)
	assert.Equal(t, 2, parsed.Restaurant.Guests)
}
