package extract

import (
	"encoding/json"
	"strings"
)

// Entitlement is one redeemable key slot within a Humble purchase. It is
// uniquely identified by (GameKey, MachineName, KeyIndex). RevealedKey is
// set at most once per run, by the redemption engine after a reveal call.
type Entitlement struct {
	HumanName   string
	GameKey     string // Humble order batch id
	MachineName string // key type on Humble's reveal endpoint
	KeyIndex    int
	SteamAppID  int
	HasAppID    bool
	RevealedKey string
	Revealed    bool

	// Export-only metadata
	IsGift    bool
	KeyType   string
	IsExpired bool
}

// SteamKeys extracts every Steam entitlement from decoded order-detail
// payloads: any nested map carrying a steam_app_id field, in traversal
// order.
func SteamKeys(orderDetails []any) []Entitlement {
	return entitlements(orderDetails, "steam_app_id")
}

// AllKeys extracts every entitlement regardless of platform: any nested map
// carrying a key_type_human_name field.
func AllKeys(orderDetails []any) []Entitlement {
	return entitlements(orderDetails, "key_type_human_name")
}

func entitlements(orderDetails []any, marker string) []Entitlement {
	var out []Entitlement
	for _, m := range CollectMaps(orderDetails, marker) {
		out = append(out, FromMap(m))
	}
	return out
}

// FromMap builds an Entitlement from a raw tpk map as decoded from Humble's
// order-detail JSON. Missing fields stay at their zero values.
func FromMap(m map[string]any) Entitlement {
	e := Entitlement{
		HumanName:   stringField(m, "human_name"),
		GameKey:     stringField(m, "gamekey"),
		MachineName: stringField(m, "machine_name"),
		KeyType:     stringField(m, "key_type_human_name"),
		IsGift:      boolField(m, "is_gift"),
		IsExpired:   boolField(m, "is_expired"),
	}
	if idx, ok := intField(m, "keyindex"); ok {
		e.KeyIndex = idx
	}
	if id, ok := intField(m, "steam_app_id"); ok {
		e.SteamAppID = id
		e.HasAppID = true
	}
	if v, ok := m["redeemed_key_val"]; ok {
		if s, ok := v.(string); ok {
			e.RevealedKey = s
			e.Revealed = true
		}
	}
	return e
}

// Name returns the trimmed display name.
func (e Entitlement) Name() string {
	return strings.TrimSpace(e.HumanName)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}
