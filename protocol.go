package hilighting

import (
	"fmt"
	"math"
	"sort"
)

// GATT characteristics consumed by the link. The write characteristic
// carries every command; the other three hold static device information.
const (
	WriteCharacteristicUUID = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	FirmwareRevisionUUID    = "00002a26-0000-1000-8000-00805f9b34fb"
	SoftwareNumberUUID      = "00002a28-0000-1000-8000-00805f9b34fb"
	ManufacturerNameUUID    = "00002a29-0000-1000-8000-00805f9b34fb"
)

// EffectOff is the reported effect name while no effect is running.
const EffectOff = "off"

const effectCount = 10

var effectIDs = buildEffectMap()

func buildEffectMap() map[string]byte {
	m := make(map[string]byte, effectCount)
	for i := 0; i < effectCount; i++ {
		m[fmt.Sprintf("Effect %d", i)] = byte(i)
	}
	return m
}

// EffectNames returns the closed set of supported effect names, sorted.
func EffectNames() []string {
	names := make([]string, 0, len(effectIDs))
	for name := range effectIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Every command packet starts with 0x55. The layouts are fixed protocol
// constants of the peripheral's firmware.
var (
	cmdTurnOn  = []byte{0x55, 0x01, 0x02, 0x01}
	cmdTurnOff = []byte{0x55, 0x01, 0x02, 0x00}
)

func colorPacket(r, g, b uint8) []byte {
	return []byte{0x55, 0x07, 0x01, r, g, b}
}

// brightnessByte maps the 0-255 input range onto the device's 0-15
// wire range: floor(b*0.06), capped at 0x0f.
func brightnessByte(b uint8) byte {
	v := byte(float64(b) * 0.06)
	if v > 0x0f {
		v = 0x0f
	}
	return v
}

func brightnessPacket(b uint8) []byte {
	return []byte{0x55, 0x03, 0x01, 0xff, brightnessByte(b)}
}

func effectPacket(id byte) []byte {
	return []byte{0x55, 0x04, 0x01, id}
}

// speedByte maps the 0-100 input range onto a full byte:
// round(s*2.55), clamped to [0, 255].
func speedByte(s int) byte {
	v := int(math.Round(float64(s) * 2.55))
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return byte(v)
}

func speedPacket(s int) []byte {
	return []byte{0x55, 0x04, 0x04, speedByte(s)}
}
