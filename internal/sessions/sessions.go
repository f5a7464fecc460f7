// Package sessions tracks which Eastern Time trading window is active and
// how attractive the current weekday is under the active weekly profile.
package sessions

import (
	"time"

	"ict-trading-bot/config"
)

// Killzone sessions are the only windows where new entries are allowed.
var killzones = map[string]bool{
	"london":     true,
	"ny_forex":   true,
	"ny_indices": true,
}

// Manager resolves the current session from wall-clock time. Eastern Time
// drives every window, including DST shifts.
type Manager struct {
	eastern *time.Location

	CurrentSession string
	SessionWeight  float64
}

func NewManager(cfg *config.Config) *Manager {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Fixed EST offset keeps the bot running on hosts without tzdata.
		loc = time.FixedZone("EST", -5*3600)
	}
	m := &Manager{
		eastern:        loc,
		CurrentSession: "off_session",
		SessionWeight:  weightOrDefault(cfg, "off_session"),
	}
	return m
}

// Update recomputes the active session for the given UTC instant. A zero
// time means now.
func (m *Manager) Update(cfg *config.Config, utcNow time.Time) {
	if utcNow.IsZero() {
		utcNow = time.Now().UTC()
	}
	et := utcNow.In(m.eastern)
	currentMin := et.Hour()*60 + et.Minute()

	m.CurrentSession = "off_session"
	m.SessionWeight = weightOrDefault(cfg, "off_session")

	for name, window := range cfg.SessionConfig.Windows {
		startMin := window.StartHour*60 + window.StartMinute
		endMin := window.EndHour*60 + window.EndMinute

		var inSession bool
		if startMin < endMin {
			inSession = currentMin >= startMin && currentMin < endMin
		} else {
			// Wraps midnight, e.g. the Asian session 20:00-00:00.
			inSession = currentMin >= startMin || currentMin < endMin
		}

		if inSession {
			m.CurrentSession = name
			m.SessionWeight = weightOrDefault(cfg, name)
			break
		}
	}
}

func (m *Manager) IsLondon() bool {
	return m.CurrentSession == "london"
}

func (m *Manager) IsNY() bool {
	return m.CurrentSession == "ny_forex" || m.CurrentSession == "ny_indices"
}

func (m *Manager) IsKillzone() bool {
	return killzones[m.CurrentSession]
}

// InSilverBullet reports whether the instant falls in the 10:00-11:00 ET
// window.
func (m *Manager) InSilverBullet(utcNow time.Time) bool {
	if utcNow.IsZero() {
		utcNow = time.Now().UTC()
	}
	et := utcNow.In(m.eastern)
	return et.Hour() == 10
}

// SilverBulletMultiplier boosts confidence for setups forming inside the
// silver bullet hour.
func (m *Manager) SilverBulletMultiplier(utcNow time.Time) float64 {
	if m.InSilverBullet(utcNow) {
		return 1.1
	}
	return 1.0
}

// DayOfWeek returns the current Eastern Time weekday name.
func (m *Manager) DayOfWeek(utcNow time.Time) string {
	if utcNow.IsZero() {
		utcNow = time.Now().UTC()
	}
	return utcNow.In(m.eastern).Weekday().String()
}

// DayRating scores today under the given weekly profile.
func (m *Manager) DayRating(cfg *config.Config, profile string, utcNow time.Time) float64 {
	ratings, ok := cfg.DayRatings[profile]
	if !ok {
		return 0
	}
	return ratings.Get(m.DayOfWeek(utcNow))
}

// ShouldTradeToday gates entries on the profile's day rating.
func (m *Manager) ShouldTradeToday(cfg *config.Config, profile string, utcNow time.Time) bool {
	return m.DayRating(cfg, profile, utcNow) >= cfg.MinDayRating
}

func weightOrDefault(cfg *config.Config, name string) float64 {
	if w, ok := cfg.SessionConfig.Weights[name]; ok {
		return w
	}
	return 0.5
}
