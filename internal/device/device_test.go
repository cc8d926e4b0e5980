package device

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDeriveAddress(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"kitchen_light", "kitchenlight"},
		{"Kitchen-Light", "kitchenlight"},
		{"Living_Room-Lamp_01", "livingroomlamp"},
		{"abc", "abc"},
		{"ABCDEFGHIJKLMNOP", "abcdefghijklmn"},
		{"__--__", ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := DeriveAddress(tt.id)
			if got != tt.want {
				t.Errorf("DeriveAddress(%q) = %q, want %q", tt.id, got, tt.want)
			}
			if len([]rune(got)) > MaxAddressLength {
				t.Errorf("DeriveAddress(%q) length %d exceeds %d", tt.id, len(got), MaxAddressLength)
			}
		})
	}
}

func TestLoad_NormalisesDefaults(t *testing.T) {
	result := Load([]map[string]any{
		{"id": "porch", "type": "switch", "status_topic": "stat/porch/POWER", "cmd_topic": "cmnd/porch/power"},
	})

	if len(result.Skipped) != 0 {
		t.Fatalf("Skipped = %v, want none", result.Skipped)
	}
	d := result.Descriptors[0]
	if d.Name != "porch" {
		t.Errorf("Name = %q, want id as default", d.Name)
	}
	if d.SensorID != SingleSensor {
		t.Errorf("SensorID = %q, want %q", d.SensorID, SingleSensor)
	}
	if d.HasSensor() {
		t.Error("HasSensor() = true for default sensor id")
	}
	if d.StatusTopic.Primary() != "stat/porch/POWER" {
		t.Errorf("StatusTopic.Primary() = %q", d.StatusTopic.Primary())
	}
}

func TestLoad_SkipsInvalidEntries(t *testing.T) {
	raw := []map[string]any{
		{"id": "a", "type": "switch", "status_topic": "stat/a/POWER", "cmd_topic": "cmnd/a/power"},
		{"id": "b", "type": "switch", "status_topic": "stat/b/POWER"},
		{"type": "switch", "status_topic": "stat/c/POWER", "cmd_topic": "cmnd/c/power"},
		{"id": "d", "type": "switch", "status_topic": 42, "cmd_topic": "cmnd/d/power"},
		{"id": "e", "type": "switch", "status_topic": []any{}, "cmd_topic": "cmnd/e/power"},
		{"id": "f", "type": "shellyflood", "status_topic": []any{"shellies/f/sensor/flood", "shellies/f/sensor/temperature"}, "cmd_topic": "shellies/f/command"},
	}

	result := Load(raw)

	if len(result.Descriptors) != 2 {
		t.Fatalf("Descriptors = %d, want 2", len(result.Descriptors))
	}
	if result.Descriptors[0].ID != "a" || result.Descriptors[1].ID != "f" {
		t.Errorf("loaded ids = %q, %q; want a, f", result.Descriptors[0].ID, result.Descriptors[1].ID)
	}
	if got := len(result.Descriptors[1].StatusTopic); got != 2 {
		t.Errorf("list status topic length = %d, want 2", got)
	}

	if len(result.Skipped) != 4 {
		t.Fatalf("Skipped = %d (%v), want 4", len(result.Skipped), result.Skipped)
	}
	wantErrs := []error{ErrMissingField, ErrMissingField, ErrInvalidDescriptor, ErrMissingField}
	for i, want := range wantErrs {
		if !errors.Is(result.Skipped[i], want) {
			t.Errorf("Skipped[%d] = %v, want %v", i, result.Skipped[i], want)
		}
	}
}

func TestLoad_RejectsAddressCollision(t *testing.T) {
	result := Load([]map[string]any{
		{"id": "hall_light", "type": "switch", "status_topic": "stat/h1/POWER", "cmd_topic": "cmnd/h1/power"},
		{"id": "hall-light", "type": "dimmer", "status_topic": "stat/h2/POWER", "cmd_topic": "cmnd/h2/power"},
	})

	if len(result.Descriptors) != 1 || result.Descriptors[0].Type != TypeSwitch {
		t.Fatalf("Descriptors = %+v, want only the first", result.Descriptors)
	}
	if len(result.Skipped) != 1 || !errors.Is(result.Skipped[0], ErrAddressCollision) {
		t.Errorf("Skipped = %v, want one ErrAddressCollision", result.Skipped)
	}
}

func TestLoad_RejectsReservedAddress(t *testing.T) {
	result := Load([]map[string]any{
		{"id": "MQ_Ctrl", "type": "switch", "status_topic": "stat/c/POWER", "cmd_topic": "cmnd/c/power"},
		{"id": "porch", "type": "switch", "status_topic": "stat/p/POWER", "cmd_topic": "cmnd/p/power"},
	}, "mqctrl")

	if len(result.Descriptors) != 1 || result.Descriptors[0].ID != "porch" {
		t.Fatalf("Descriptors = %+v, want only porch", result.Descriptors)
	}
	if len(result.Skipped) != 1 || !errors.Is(result.Skipped[0], ErrAddressCollision) {
		t.Errorf("Skipped = %v, want one ErrAddressCollision", result.Skipped)
	}
}

func TestLoad_YAMLIntegerSensorID(t *testing.T) {
	// sensor_id must be a string; YAML ints are rejected by the schema.
	result := Load([]map[string]any{
		{"id": "x", "type": "analog", "status_topic": "tele/x/SENSOR", "cmd_topic": "cmnd/x/Status", "sensor_id": 5},
	})
	if len(result.Skipped) != 1 || !errors.Is(result.Skipped[0], ErrInvalidDescriptor) {
		t.Errorf("Skipped = %v, want ErrInvalidDescriptor", result.Skipped)
	}
}

func TestTopicList_JSON(t *testing.T) {
	var single TopicList
	if err := json.Unmarshal([]byte(`"a/b"`), &single); err != nil {
		t.Fatalf("Unmarshal(single) error = %v", err)
	}
	out, _ := json.Marshal(single)
	if string(out) != `"a/b"` {
		t.Errorf("Marshal(single) = %s, want plain string", out)
	}

	var many TopicList
	if err := json.Unmarshal([]byte(`["a/b","c/d"]`), &many); err != nil {
		t.Fatalf("Unmarshal(list) error = %v", err)
	}
	out, _ = json.Marshal(many)
	if string(out) != `["a/b","c/d"]` {
		t.Errorf("Marshal(list) = %s", out)
	}

	var bad TopicList
	if err := json.Unmarshal([]byte(`7`), &bad); err == nil {
		t.Error("Unmarshal(number) expected error")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestParseFile(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, "devices.yaml", `
devices:
  - id: porch
    type: switch
    status_topic: stat/porch/POWER
    cmd_topic: cmnd/porch/power
  - id: flood
    type: shellyflood
    status_topic:
      - shellies/flood/sensor/flood
      - shellies/flood/sensor/battery
    cmd_topic: shellies/flood/command
`)
		raw, err := ParseFile(path)
		if err != nil {
			t.Fatalf("ParseFile() error = %v", err)
		}
		result := Load(raw)
		if len(result.Descriptors) != 2 || len(result.Skipped) != 0 {
			t.Errorf("Load() = %d descriptors, %v skipped", len(result.Descriptors), result.Skipped)
		}
	})

	t.Run("json", func(t *testing.T) {
		path := writeFile(t, "devices.json", `{"devices":[{"id":"a","type":"raw","status_topic":"a/s","cmd_topic":"a/c"}]}`)
		raw, err := ParseFile(path)
		if err != nil {
			t.Fatalf("ParseFile() error = %v", err)
		}
		if len(raw) != 1 {
			t.Errorf("ParseFile() = %d entries, want 1", len(raw))
		}
	})

	t.Run("errors", func(t *testing.T) {
		cases := map[string]string{
			"missing file": filepath.Join(t.TempDir(), "nope.yaml"),
			"bad yaml":     writeFile(t, "bad.yaml", "devices: [unclosed"),
			"no devices":   writeFile(t, "nodev.yaml", "other: 1\n"),
		}
		for name, path := range cases {
			if _, err := ParseFile(path); !errors.Is(err, ErrConfig) {
				t.Errorf("%s: ParseFile() error = %v, want ErrConfig", name, err)
			}
		}
	})
}

func TestParseInline(t *testing.T) {
	raw, err := ParseInline(`[{"id":"a","type":"switch","status_topic":"s","cmd_topic":"c"}]`)
	if err != nil || len(raw) != 1 {
		t.Fatalf("ParseInline() = %v, %v", raw, err)
	}

	for _, text := range []string{"", "   ", "{not json", `{"id":"a"}`} {
		if _, err := ParseInline(text); !errors.Is(err, ErrConfig) {
			t.Errorf("ParseInline(%q) error = %v, want ErrConfig", text, err)
		}
	}
}
