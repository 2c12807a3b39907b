package broker

import (
	"testing"

	"trademanager/internal/models"
)

func TestMapSide(t *testing.T) {
	cases := []struct {
		name   string
		asset  models.AssetType
		reason models.Reason
		want   string
	}{
		{"equity entry", models.AssetEquity, models.ReasonEntry, "buy"},
		{"equity sl close", models.AssetEquity, models.ReasonSL, "sell"},
		{"equity tp close", models.AssetEquity, models.ReasonTP, "sell"},
		{"option entry", models.AssetOption, models.ReasonEntry, "buy_to_open"},
		{"option sl close", models.AssetOption, models.ReasonSL, "sell_to_close"},
		{"option force close", models.AssetOption, models.ReasonForce, "sell_to_close"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := MapSide(c.asset, models.SideLong, c.reason)
			if got != c.want {
				t.Errorf("MapSide(%v, %v) = %q, want %q", c.asset, c.reason, got, c.want)
			}
		})
	}
}

func TestNormalizeOCC(t *testing.T) {
	if got := NormalizeOCC("O:AMD260102P00180000"); got != "AMD260102P00180000" {
		t.Errorf("got %q", got)
	}
	if got := NormalizeOCC("AMD260102P00180000"); got != "AMD260102P00180000" {
		t.Errorf("got %q", got)
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want Outcome
	}{
		{200, OutcomeSuccess},
		{201, OutcomeSuccess},
		{429, OutcomeSoftFail},
		{500, OutcomeSoftFail},
		{503, OutcomeSoftFail},
		{400, OutcomeFatal},
		{403, OutcomeFatal},
		{404, OutcomeFatal},
	}
	for _, c := range cases {
		if got := ClassifyHTTPStatus(c.code); got != c.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}
