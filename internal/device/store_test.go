package device

import (
	"errors"
	"testing"
)

func sensorList() []map[string]any {
	return []map[string]any{
		{"id": "office_switch", "type": "switch", "status_topic": "stat/office/POWER", "cmd_topic": "cmnd/office/power"},
		{"id": "attic_t1", "type": "Temp", "status_topic": "tele/attic/SENSOR", "cmd_topic": "cmnd/attic/Status", "sensor_id": "DS18B20-1"},
		{"id": "attic_t2", "type": "Temp", "status_topic": "tele/attic/SENSOR", "cmd_topic": "cmnd/attic/Status", "sensor_id": "DS18B20-2"},
		{"id": "attic_a0", "type": "analog", "status_topic": "tele/attic/SENSOR", "cmd_topic": "cmnd/attic/Status", "sensor_id": "A0"},
		{"id": "cellar_t1", "type": "Temp", "status_topic": "tele/cellar/SENSOR", "cmd_topic": "cmnd/cellar/Status", "sensor_id": "DS18B20-1"},
	}
}

func TestStore_ValidAfterLoad(t *testing.T) {
	s := NewStore()
	if s.Valid() {
		t.Fatal("new store should not be valid")
	}

	if _, err := s.LoadInline("not json"); !errors.Is(err, ErrConfig) {
		t.Fatalf("LoadInline() error = %v, want ErrConfig", err)
	}
	if s.Valid() {
		t.Fatal("failed load should not make the store valid")
	}

	s.Replace(sensorList())
	if !s.Valid() {
		t.Fatal("store should be valid after Replace")
	}
	if got := len(s.List()); got != 5 {
		t.Errorf("List() = %d, want 5", got)
	}
}

func TestStore_FailedReloadKeepsList(t *testing.T) {
	s := NewStore()
	s.Replace(sensorList())

	if _, err := s.LoadFile("/does/not/exist.yaml"); err == nil {
		t.Fatal("LoadFile() expected error")
	}
	if got := len(s.List()); got != 5 {
		t.Errorf("List() after failed reload = %d, want 5", got)
	}
}

func TestStore_Get(t *testing.T) {
	s := NewStore()
	s.Replace(sensorList())

	d, ok := s.Get("attict1")
	if !ok || d.ID != "attic_t1" {
		t.Errorf("Get(attict1) = %+v, %v", d, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) = ok, want not found")
	}
}

func TestStore_ListIsCopy(t *testing.T) {
	s := NewStore()
	s.Replace(sensorList())

	list := s.List()
	list[0].StatusTopic[0] = "mutated"

	d, _ := s.Get("officeswitch")
	if d.StatusTopic[0] == "mutated" {
		t.Error("List() exposes internal slices")
	}
}

func TestStore_MatchSensor(t *testing.T) {
	s := NewStore()
	s.Replace(sensorList())

	tests := []struct {
		name   string
		topic  string
		key    string
		wantID string
		wantOK bool
	}{
		{name: "first sensor", topic: "tele/attic/SENSOR", key: "DS18B20-1", wantID: "attic_t1", wantOK: true},
		{name: "second sensor", topic: "tele/attic/SENSOR", key: "DS18B20-2", wantID: "attic_t2", wantOK: true},
		{name: "same key other device", topic: "tele/cellar/SENSOR", key: "DS18B20-1", wantID: "cellar_t1", wantOK: true},
		{name: "analog key", topic: "tele/attic/SENSOR", key: "A0", wantID: "attic_a0", wantOK: true},
		{name: "unknown key", topic: "tele/attic/SENSOR", key: "DS18B20-9", wantOK: false},
		{name: "unknown segment", topic: "tele/garage/SENSOR", key: "DS18B20-1", wantOK: false},
		{name: "single segment topic", topic: "SENSOR", key: "DS18B20-1", wantOK: false},
		{name: "empty key", topic: "tele/attic/SENSOR", key: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := s.MatchSensor(tt.topic, tt.key)
			if ok != tt.wantOK {
				t.Fatalf("MatchSensor() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && d.ID != tt.wantID {
				t.Errorf("MatchSensor() = %q, want %q", d.ID, tt.wantID)
			}
		})
	}
}

func TestStore_MatchSensorListTopic(t *testing.T) {
	s := NewStore()
	s.Replace([]map[string]any{
		{"id": "multi", "type": "Temp", "status_topic": []any{"tele/one/SENSOR", "tele/two/SENSOR"}, "cmd_topic": "c", "sensor_id": "AM2301"},
	})

	if d, ok := s.MatchSensor("tele/two/SENSOR", "AM2301"); !ok || d.ID != "multi" {
		t.Errorf("MatchSensor() on second list element = %+v, %v", d, ok)
	}
}

func TestStore_ReservedAddressSkipped(t *testing.T) {
	s := NewStore("mqctrl")
	res := s.Replace([]map[string]any{
		{"id": "mqctrl", "type": "switch", "status_topic": "stat/c/POWER", "cmd_topic": "cmnd/c/power"},
	})

	if len(res.Skipped) != 1 || !errors.Is(res.Skipped[0], ErrAddressCollision) {
		t.Errorf("Skipped = %v, want ErrAddressCollision", res.Skipped)
	}
	if _, ok := s.Get("mqctrl"); ok {
		t.Error("reserved address should not be declared")
	}
}
