package cli

import (
	"testing"

	"price-ingest-alerts/internal/alerts"
)

func setAlertFlags(name, region, target, condition string) {
	alertName, alertRegion, alertTarget, alertCondition = name, region, target, condition
}

func TestAlertFromFlags(t *testing.T) {
	setAlertFlags("Soybean", "X", "150.25", "below")
	alert, err := alertFromFlags()
	if err != nil {
		t.Fatalf("alertFromFlags: %v", err)
	}
	if alert.Condition != alerts.Below || alert.TargetPrice.String() != "150.25" || alert.Product.Name != "Soybean" {
		t.Fatalf("unexpected alert %+v", alert)
	}
}

func TestAlertFromFlagsRejects(t *testing.T) {
	cases := map[string][4]string{
		"missing name":  {"", "X", "1", "ABOVE"},
		"bad target":    {"Soybean", "X", "cheap", "ABOVE"},
		"bad condition": {"Soybean", "X", "1", "SIDEWAYS"},
	}
	for name, c := range cases {
		setAlertFlags(c[0], c[1], c[2], c[3])
		if _, err := alertFromFlags(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "ingest", "evaluate", "merge", "show", "export", "alert", "migrate", "simulate-alert", "version"}
	for _, name := range want {
		if cmd, _, err := rootCmd.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("command %s not registered: %v", name, err)
		}
	}
}
