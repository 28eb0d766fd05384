package rpc

import "testing"

func TestRemoveSecret(t *testing.T) {
	request := map[string]any{
		"method": "submit",
		"secret": "snoPBrXtMeMyMHUVTgbuqAfg1SUTb",
		"params": []any{map[string]any{
			"seed":     "s",
			"seed_hex": "00",
			"tx_blob":  "ABCD",
		}},
	}

	got := RemoveSecret(request)

	if got["secret"] != "*" {
		t.Errorf("secret = %v, want masked", got["secret"])
	}
	params := got["params"].([]any)[0].(map[string]any)
	if params["seed"] != "*" || params["seed_hex"] != "*" {
		t.Errorf("params secrets not masked: %v", params)
	}
	if params["tx_blob"] != "ABCD" {
		t.Error("non-secret fields must be kept")
	}

	if request["secret"] == "*" {
		t.Error("RemoveSecret must not modify its input")
	}
	if request["params"].([]any)[0].(map[string]any)["seed"] == "*" {
		t.Error("RemoveSecret must not modify nested input")
	}
}
