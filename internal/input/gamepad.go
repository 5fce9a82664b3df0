package input

import "fmt"

// Linux evdev event types and codes for a standard Xbox-style pad.
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvAbs uint16 = 0x03

	BtnA      uint16 = 0x130
	BtnB      uint16 = 0x131
	BtnX      uint16 = 0x133
	BtnY      uint16 = 0x134
	BtnTL     uint16 = 0x136
	BtnTR     uint16 = 0x137
	BtnSelect uint16 = 0x13a
	BtnStart  uint16 = 0x13b
	BtnMode   uint16 = 0x13c
	BtnThumbL uint16 = 0x13d
	BtnThumbR uint16 = 0x13e

	AbsX     uint16 = 0x00
	AbsY     uint16 = 0x01
	AbsZ     uint16 = 0x02
	AbsRX    uint16 = 0x03
	AbsRY    uint16 = 0x04
	AbsRZ    uint16 = 0x05
	AbsHat0X uint16 = 0x10
	AbsHat0Y uint16 = 0x11
)

const (
	stickMin = -32768
	stickMax = 32767
)

// Action is a single evdev write.
type Action struct {
	Type  uint16
	Code  uint16
	Value int32
}

func (a Action) String() string {
	return fmt.Sprintf("%#x/%#x=%d", a.Type, a.Code, a.Value)
}

// Buttons with an absolute axis carry the value written while held.
var buttons = map[string]Action{
	"A":      {EvKey, BtnA, 1},
	"B":      {EvKey, BtnB, 1},
	"X":      {EvKey, BtnX, 1},
	"Y":      {EvKey, BtnY, 1},
	"SELECT": {EvKey, BtnSelect, 1},
	"START":  {EvKey, BtnStart, 1},
	"HOME":   {EvKey, BtnMode, 1},
	"LB":     {EvKey, BtnTL, 1},
	"RB":     {EvKey, BtnTR, 1},
	"L3":     {EvKey, BtnThumbL, 1},
	"R3":     {EvKey, BtnThumbR, 1},

	"DPAD_UP":    {EvAbs, AbsHat0Y, -1},
	"DPAD_DOWN":  {EvAbs, AbsHat0Y, 1},
	"DPAD_LEFT":  {EvAbs, AbsHat0X, -1},
	"DPAD_RIGHT": {EvAbs, AbsHat0X, 1},
	"LT":         {EvAbs, AbsZ, 255},
	"RT":         {EvAbs, AbsRZ, 255},
}

var axes = map[string]uint16{
	"LEFT_X":  AbsX,
	"LEFT_Y":  AbsY,
	"RIGHT_X": AbsRX,
	"RIGHT_Y": AbsRY,
}

// Translate maps an event to the evdev writes that reproduce it, followed by
// a sync report.
func Translate(e Event) ([]Action, error) {
	var a Action
	switch e.Type {
	case EventButton:
		b, ok := buttons[e.Code]
		if !ok {
			return nil, fmt.Errorf("%w: button %q", ErrUnknownEvent, e.Code)
		}
		a = b
		if !e.Pressed() {
			a.Value = 0
		}
	case EventAxis:
		code, ok := axes[e.Code]
		if !ok {
			return nil, fmt.Errorf("%w: axis %q", ErrUnknownEvent, e.Code)
		}
		v := int32(max(stickMin, min(stickMax, e.Value)))
		a = Action{Type: EvAbs, Code: code, Value: v}
	default:
		return nil, fmt.Errorf("%w: %q is not injectable", ErrUnknownEvent, e.Type)
	}
	return []Action{a, {Type: EvSyn}}, nil
}
