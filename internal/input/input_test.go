package input

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse(t *testing.T) {
	e, err := Parse([]byte(`{"type":"BUTTON","code":"A","value":1,"gamepadIndex":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.Type != EventButton || e.Code != "A" || !e.Pressed() || e.GamepadIndex != 2 {
		t.Errorf("event = %+v", e)
	}

	bad := []string{
		`not json`,
		`{"type":"KEYBOARD","code":"A"}`,
		`{"type":"AXIS","code":"LEFT_X","gamepadIndex":-1}`,
	}
	for _, b := range bad {
		if _, err := Parse([]byte(b)); err == nil {
			t.Errorf("Parse(%s) accepted", b)
		}
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want Action
	}{
		{"button down", Event{Type: EventButton, Code: "START", Value: 1}, Action{EvKey, BtnStart, 1}},
		{"button up", Event{Type: EventButton, Code: "START"}, Action{EvKey, BtnStart, 0}},
		{"dpad", Event{Type: EventButton, Code: "DPAD_LEFT", Value: 1}, Action{EvAbs, AbsHat0X, -1}},
		{"trigger", Event{Type: EventButton, Code: "RT", Value: 1}, Action{EvAbs, AbsRZ, 255}},
		{"axis", Event{Type: EventAxis, Code: "RIGHT_Y", Value: -1200}, Action{EvAbs, AbsRY, -1200}},
		{"axis clamped", Event{Type: EventAxis, Code: "LEFT_X", Value: 90000}, Action{EvAbs, AbsX, 32767}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Translate(tt.ev)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0] != tt.want || got[1].Type != EvSyn {
				t.Errorf("actions = %v, want [%v sync]", got, tt.want)
			}
		})
	}

	for _, e := range []Event{
		{Type: EventButton, Code: "TURBO"},
		{Type: EventAxis, Code: "WHEEL"},
		{Type: EventStats},
	} {
		if _, err := Translate(e); !errors.Is(err, ErrUnknownEvent) {
			t.Errorf("Translate(%+v) err = %v", e, err)
		}
	}
}

type recordingInjector struct {
	events []Event
}

func (r *recordingInjector) Inject(e Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestDispatcher(t *testing.T) {
	rec := &recordingInjector{}
	d := NewDispatcher(rec, discardLogger())

	if _, err := d.Handle([]byte(`{"type":"STATS","audio":{"jitter":3}}`)); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 0 {
		t.Error("stats message injected")
	}
	if _, err := d.Handle([]byte(`{"type":"AXIS","code":"LEFT_Y","value":512}`)); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 1 || rec.events[0].Code != "LEFT_Y" {
		t.Errorf("injected = %+v", rec.events)
	}
	if _, err := d.Handle([]byte(`{`)); err == nil {
		t.Error("malformed message accepted")
	}
}

func TestLogInjector(t *testing.T) {
	l := NewLogInjector(discardLogger())
	if err := l.Inject(Event{Type: EventButton, Code: "A", Value: 1}); err != nil {
		t.Fatal(err)
	}
	if err := l.Inject(Event{Type: EventButton, Code: "?"}); err == nil {
		t.Error("unknown button accepted")
	}
	if l.Injected() != 1 {
		t.Errorf("injected = %d", l.Injected())
	}
}
