package wiz

import (
	"encoding/json"

	"github.com/dokzlo13/fluxd/internal/device"
)

type request struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type response struct {
	Method string          `json:"method"`
	Env    string          `json:"env,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type setResult struct {
	Success bool `json:"success"`
}

type systemConfig struct {
	Mac        string `json:"mac"`
	HomeID     int    `json:"homeId"`
	FwVersion  string `json:"fwVersion"`
	ModuleName string `json:"moduleName"`
}

// pilot is the getPilot result. Color channels are absent in temperature mode.
type pilot struct {
	Mac     string `json:"mac"`
	RSSI    int    `json:"rssi"`
	State   bool   `json:"state"`
	SceneID int    `json:"sceneId"`
	Temp    int    `json:"temp"`
	Dimming int    `json:"dimming"`
	R       *uint8 `json:"r,omitempty"`
	G       *uint8 `json:"g,omitempty"`
	B       *uint8 `json:"b,omitempty"`
	C       *uint8 `json:"c,omitempty"`
	W       *uint8 `json:"w,omitempty"`
}

func (p pilot) reported() device.Reported {
	return device.Reported{
		On:      p.State,
		Red:     deref(p.R),
		Green:   deref(p.G),
		Blue:    deref(p.B),
		Warm:    deref(p.W),
		Cold:    deref(p.C),
		Kelvin:  p.Temp,
		Dimming: p.Dimming,
	}
}

func deref(v *uint8) uint8 {
	if v == nil {
		return 0
	}
	return *v
}
