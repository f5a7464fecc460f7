package sessions

import (
	"testing"
	"time"

	"ict-trading-bot/config"
)

// January dates keep ET at UTC-5, so ET hour h is UTC hour h+5.
func utcForETHour(etHour, etMinute int) time.Time {
	utcHour := etHour + 5
	day := 15
	if utcHour >= 24 {
		utcHour -= 24
		day++
	}
	return time.Date(2024, 1, day, utcHour, etMinute, 0, 0, time.UTC)
}

func TestLondonSession(t *testing.T) {
	cfg := config.TestDefault()
	sm := NewManager(cfg)

	sm.Update(cfg, utcForETHour(3, 0))
	if sm.CurrentSession != "london" {
		t.Fatalf("session = %q, want london at 3am ET", sm.CurrentSession)
	}
	if !sm.IsLondon() || !sm.IsKillzone() {
		t.Fatal("london should be a killzone")
	}
	if sm.SessionWeight != 1.5 {
		t.Fatalf("weight = %v, want 1.5", sm.SessionWeight)
	}
}

func TestNYForexSession(t *testing.T) {
	cfg := config.TestDefault()
	sm := NewManager(cfg)

	sm.Update(cfg, utcForETHour(7, 30))
	if !sm.IsNY() || !sm.IsKillzone() {
		t.Fatalf("7:30am ET should be a NY killzone, got %q", sm.CurrentSession)
	}
}

func TestOverlappingNYWindows(t *testing.T) {
	cfg := config.TestDefault()
	sm := NewManager(cfg)

	// 9am ET sits in both ny_forex and ny_indices; either way it is a
	// killzone.
	sm.Update(cfg, utcForETHour(9, 0))
	if !sm.IsKillzone() {
		t.Fatalf("9am ET should be a killzone, got %q", sm.CurrentSession)
	}
}

func TestOffSession(t *testing.T) {
	cfg := config.TestDefault()
	sm := NewManager(cfg)

	sm.Update(cfg, utcForETHour(14, 0))
	if sm.CurrentSession != "off_session" {
		t.Fatalf("session = %q, want off_session at 2pm ET", sm.CurrentSession)
	}
	if sm.IsKillzone() {
		t.Fatal("off_session is not a killzone")
	}
}

func TestAsianSessionWrapsMidnight(t *testing.T) {
	cfg := config.TestDefault()
	sm := NewManager(cfg)

	sm.Update(cfg, utcForETHour(21, 0))
	if sm.CurrentSession != "asian" {
		t.Fatalf("session = %q, want asian at 9pm ET", sm.CurrentSession)
	}
	if sm.IsKillzone() {
		t.Fatal("asian session is not a killzone")
	}
}

func TestSilverBulletWindow(t *testing.T) {
	cfg := config.TestDefault()
	sm := NewManager(cfg)

	if !sm.InSilverBullet(utcForETHour(10, 30)) {
		t.Fatal("10:30am ET should be inside the silver bullet hour")
	}
	if sm.InSilverBullet(utcForETHour(11, 0)) {
		t.Fatal("11am ET is outside the silver bullet hour")
	}
	if got := sm.SilverBulletMultiplier(utcForETHour(10, 15)); got != 1.1 {
		t.Fatalf("multiplier = %v, want 1.1 inside the window", got)
	}
	if got := sm.SilverBulletMultiplier(utcForETHour(14, 0)); got != 1.0 {
		t.Fatalf("multiplier = %v, want 1.0 outside the window", got)
	}
}

func TestDayRatingGate(t *testing.T) {
	cfg := config.TestDefault()
	sm := NewManager(cfg)

	// 2024-01-15 is a Monday: rated 0 in every profile.
	monday := time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC)
	if sm.ShouldTradeToday(cfg, "classic_expansion", monday) {
		t.Fatal("Monday should never clear the day-rating gate")
	}

	// 2024-01-17 is a Wednesday: classic_expansion rates it 5.
	wednesday := time.Date(2024, 1, 17, 17, 0, 0, 0, time.UTC)
	if !sm.ShouldTradeToday(cfg, "classic_expansion", wednesday) {
		t.Fatal("Wednesday under classic_expansion should be tradeable")
	}
	if got := sm.DayRating(cfg, "classic_expansion", wednesday); got != 5 {
		t.Fatalf("rating = %v, want 5", got)
	}
}
