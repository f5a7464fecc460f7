package archive

import (
	"encoding/json"
	"reflect"
	"testing"

	"ict-trading-bot/internal/trading"
)

// Integration tests against a real database run separately; these cover
// the pure pieces of the archive path.

func TestOutcomeFromPnL(t *testing.T) {
	if got := outcomeFromPnL(12.5); got != "win" {
		t.Errorf("positive pnl: got %q, want win", got)
	}
	if got := outcomeFromPnL(-3.0); got != "loss" {
		t.Errorf("negative pnl: got %q, want loss", got)
	}
	if got := outcomeFromPnL(0); got != "loss" {
		t.Errorf("flat pnl: got %q, want loss", got)
	}
}

func TestMetadataSurvivesJSONColumn(t *testing.T) {
	meta := trading.TradeMetadata{
		Scale:                "5m",
		Direction:            "long",
		Confidence:           0.72,
		Session:              "london",
		CISDConfirmed:        true,
		StopMode:             "structure",
		TPLabel:              "erl_target",
		CrossScaleConfluence: 2,
		WeeklyProfile:        "classic_tuesday_low",
		DayOfWeek:            "wednesday",
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back trading.TradeMetadata
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back, meta) {
		t.Errorf("metadata changed through JSON column: got %+v, want %+v", back, meta)
	}
}
