package target

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		ID:        "550e8400-e29b-41d4-a716-446655440000",
		Name:      "Stockholm",
		AreaCode:  "0180",
		ChannelID: "channel123",
		Enabled:   true,
	}
}

func TestValidateTargets_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input []Config
	}{
		{
			name:  "empty configuration",
			input: nil,
		},
		{
			name:  "single valid target",
			input: []Config{validConfig()},
		},
		{
			name: "county, municipality and nationwide",
			input: []Config{
				validConfig(),
				{ID: "6ba7b810-9dad-41d1-80b4-00c04fd430c8", Name: "Stockholms län", AreaCode: "01", ChannelID: "c2"},
				{ID: uuid.NewString(), Name: "Sverige", AreaCode: "00", ChannelID: "c3", TestMode: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, ValidateTargets(tt.input))
		})
	}
}

func TestValidateTargets_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"missing id", func(c *Config) { c.ID = "" }, "id"},
		{"missing name", func(c *Config) { c.Name = "" }, "name"},
		{"missing area code", func(c *Config) { c.AreaCode = "" }, "areaCode"},
		{"missing channel", func(c *Config) { c.ChannelID = "" }, "channelId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := ValidateTargets([]Config{cfg})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "position 1")
			assert.Contains(t, err.Error(), "'"+tt.field+"'")
		})
	}
}

func TestValidateTargets_InvalidUUID(t *testing.T) {
	t.Run("not a uuid", func(t *testing.T) {
		cfg := validConfig()
		cfg.ID = "not-a-uuid"

		err := ValidateTargets([]Config{cfg})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid UUID format")
	})

	t.Run("uuid v1", func(t *testing.T) {
		cfg := validConfig()
		cfg.ID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

		err := ValidateTargets([]Config{cfg})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a UUID v4")
	})
}

func TestValidateTargets_Duplicates(t *testing.T) {
	t.Run("duplicate id", func(t *testing.T) {
		second := validConfig()
		second.Name = "Other"

		err := ValidateTargets([]Config{validConfig(), second})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate target ID")
	})

	t.Run("duplicate name", func(t *testing.T) {
		second := validConfig()
		second.ID = uuid.NewString()

		err := ValidateTargets([]Config{validConfig(), second})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate target name")
	})
}

func TestValidateTargets_AreaCode(t *testing.T) {
	for _, code := range []string{"1", "123", "12345", "ab", "01a4", " 01"} {
		t.Run(code, func(t *testing.T) {
			cfg := validConfig()
			cfg.AreaCode = code

			err := ValidateTargets([]Config{cfg})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "area code must be 2 or 4 digits")
		})
	}
}

func TestDiffTargets(t *testing.T) {
	a := validConfig()
	b := Config{ID: "6ba7b810-9dad-41d1-80b4-00c04fd430c8", Name: "B", AreaCode: "01", ChannelID: "c2", Enabled: true}
	c := Config{ID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Name: "C", AreaCode: "00", ChannelID: "c3"}

	t.Run("no changes", func(t *testing.T) {
		toAdd, toUpdate, toRemove := DiffTargets([]Config{a, b}, []Config{a, b})
		assert.Empty(t, toAdd)
		assert.Empty(t, toUpdate)
		assert.Empty(t, toRemove)
	})

	t.Run("mixed", func(t *testing.T) {
		bTest := b
		bTest.TestMode = true

		toAdd, toUpdate, toRemove := DiffTargets([]Config{a, b}, []Config{c, bTest})
		assert.Equal(t, []string{c.ID}, toAdd)
		assert.Equal(t, []string{b.ID}, toUpdate)
		assert.Equal(t, []string{a.ID}, toRemove)
	})

	t.Run("adds follow new order", func(t *testing.T) {
		toAdd, _, _ := DiffTargets(nil, []Config{c, a, b})
		assert.Equal(t, []string{c.ID, a.ID, b.ID}, toAdd)
	})
}
