package cmd

import (
	"github.com/anicoll/gasmeter/internal/pkg/link"
	"github.com/anicoll/gasmeter/internal/pkg/panel"
	"github.com/anicoll/gasmeter/internal/pkg/sensor"
	"github.com/anicoll/gasmeter/internal/pkg/storage"
)

// dependencies are the hardware and storage edges run needs. Tests swap them for fakes.
type dependencies struct {
	Store   storage.Store
	Sampler sensor.Sampler
	Monitor link.Monitor
	Buttons []*panel.GPIOButton
}
