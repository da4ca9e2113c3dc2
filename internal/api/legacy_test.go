package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/amimof/huego"

	"github.com/huebridged/bridge/internal/graph"
)

func TestHandleLegacyLightReturnsV1Shape(t *testing.T) {
	s, g, _, _ := newTestServer(t)
	owner := graph.NewHandle(graph.TypeDevice, "dev-legacy")
	light := graph.NewHandle(graph.TypeLight, "legacy-1")
	if _, err := g.Upsert(owner, &graph.Device{Name: "Lamp"}); err != nil {
		t.Fatalf("Upsert device: %v", err)
	}
	if _, err := g.Upsert(light, &graph.Light{Owner: owner, Name: "Kitchen", On: true, Brightness: 100, Effect: graph.EffectNone}); err != nil {
		t.Fatalf("Upsert light: %v", err)
	}

	w := doRequest(s, "GET", "/api/valid-key/lights/"+light.ID.String(), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var doc huego.Light
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Name != "Kitchen" {
		t.Errorf("Name = %q, want Kitchen", doc.Name)
	}
	if doc.State == nil || !doc.State.On {
		t.Errorf("State.On = %v, want true", doc.State)
	}
}

func TestHandleLegacyLightsRejectsUnknownUsername(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	w := doRequest(s, "GET", "/api/bogus/lights", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
