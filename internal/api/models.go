package api

// ControlRequest is the body of a fixture or group control write.
// Brightness is on the wire scale (0.0-1.0).
type ControlRequest struct {
	Brightness *float64 `json:"brightness,omitempty"`
	ColorTemp  *int     `json:"color_temp,omitempty"`
}

// Fixture is a DMX-addressable lamp as reported by the configuration layer.
type Fixture struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	ModelID int64  `json:"model_id"`
	GroupID *int64 `json:"group_id,omitempty"`
	Address int    `json:"dmx_address"`
}

// FixtureModel describes fixture capabilities. ColorTuning marks models
// whose color temperature can be driven.
type FixtureModel struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ColorTuning bool   `json:"color_tuning"`
	MinTempK    *int   `json:"min_temp_k,omitempty"`
	MaxTempK    *int   `json:"max_temp_k,omitempty"`
}

// Group is a named collection of fixtures.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// FixtureState is the live state of one fixture. Brightness values are on
// the wire scale (0.0-1.0).
type FixtureState struct {
	FixtureID         int64    `json:"fixture_id"`
	GoalBrightness    float64  `json:"goal_brightness"`
	CurrentBrightness float64  `json:"current_brightness"`
	GoalColorTemp     *int     `json:"goal_color_temp,omitempty"`
	CurrentColorTemp  *int     `json:"current_color_temp,omitempty"`
	IsOn              bool     `json:"is_on"`
	OverrideActive    bool     `json:"override_active"`
	OverrideExpiresAt *float64 `json:"override_expires_at,omitempty"` // epoch seconds
}
