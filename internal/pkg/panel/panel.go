// Package panel implements the two-button operator panel: mode cycling and the
// digit editor used to enter an absolute meter reading.
package panel

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/anicoll/gasmeter/internal/pkg/controller"
	"github.com/anicoll/gasmeter/internal/pkg/meter"
)

type Mode int32

const (
	ModeMeter Mode = iota
	ModeNetwork
	ModeBroker
	ModeInfo
	ModeEdit
)

func (m Mode) String() string {
	switch m {
	case ModeNetwork:
		return "network"
	case ModeBroker:
		return "broker"
	case ModeInfo:
		return "info"
	case ModeEdit:
		return "edit"
	default:
		return "meter"
	}
}

type Button int

const (
	Button1 Button = iota + 1
	Button2
)

type Press struct {
	Button Button
	Long   bool
}

const (
	editDigits    = 8 // six integer and two decimal digits, in hundredths
	savePosition  = editDigits
	editPositions = editDigits + 1
	editMax       = 100_000_000
)

type meterController interface {
	CorrectTo(ctx context.Context, hundredths uint32) (controller.Result, error)
	ForceSaveAndPublish(ctx context.Context) (controller.Result, error)
	Reconnect(ctx context.Context) error
	ResetLink(ctx context.Context) error
	CurrentVolume(ctx context.Context) (uint32, error)
}

type Panel struct {
	ctrl meterController
	mode atomic.Int32

	// editor state, only touched from the goroutine running Run
	editValue uint32
	cursor    int

	logger *zap.Logger
}

func New(ctrl meterController) *Panel {
	return &Panel{ctrl: ctrl, logger: zap.L()}
}

// Mode may be read from any goroutine.
func (p *Panel) Mode() Mode {
	return Mode(p.mode.Load())
}

func (p *Panel) setMode(m Mode) {
	p.mode.Store(int32(m))
	p.logger.Debug("panel mode", zap.Stringer("mode", m))
}

func (p *Panel) Run(ctx context.Context, presses <-chan Press) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case press, ok := <-presses:
			if !ok {
				return nil
			}
			p.Handle(ctx, press)
		}
	}
}

func (p *Panel) Handle(ctx context.Context, press Press) {
	mode := p.Mode()
	switch {
	case press.Button == Button1 && press.Long:
		p.setMode(ModeMeter)
	case press.Button == Button1:
		if mode == ModeEdit {
			p.cursor = (p.cursor + 1) % editPositions
			return
		}
		p.setMode((mode + 1) % ModeEdit)
	case press.Button == Button2 && press.Long:
		if mode == ModeEdit {
			p.logger.Info("edit cancelled")
			p.setMode(ModeMeter)
		}
	case press.Button == Button2:
		p.action(ctx, mode)
	}
}

func (p *Panel) action(ctx context.Context, mode Mode) {
	switch mode {
	case ModeMeter:
		if err := p.ctrl.Reconnect(ctx); err != nil {
			p.logger.Warn("reconnect from panel failed", zap.Error(err))
		}
		p.saveAndPublish(ctx)
	case ModeBroker:
		p.saveAndPublish(ctx)
	case ModeNetwork:
		if err := p.ctrl.ResetLink(ctx); err != nil {
			p.logger.Error("link reset failed", zap.Error(err))
		}
	case ModeInfo:
		v, err := p.ctrl.CurrentVolume(ctx)
		if err != nil {
			p.logger.Error("unable to read volume", zap.Error(err))
			return
		}
		p.editValue = v % editMax
		p.cursor = 0
		p.setMode(ModeEdit)
	case ModeEdit:
		if p.cursor == savePosition {
			res, err := p.ctrl.CorrectTo(ctx, p.editValue)
			if err != nil {
				p.logger.Error("correction from panel failed", zap.Error(err))
				return
			}
			p.logger.Info("meter set from panel", zap.String("value", meter.FormatHundredths(res.Volume)))
			p.setMode(ModeMeter)
			return
		}
		p.editValue = incrementDigit(p.editValue, p.cursor)
	}
}

func (p *Panel) saveAndPublish(ctx context.Context) {
	res, err := p.ctrl.ForceSaveAndPublish(ctx)
	if err != nil {
		p.logger.Error("save and publish from panel failed", zap.Error(err))
		return
	}
	p.logger.Info("saved and published from panel",
		zap.String("value", meter.FormatHundredths(res.Volume)),
		zap.Bool("persisted", res.Persisted),
		zap.Bool("published", res.Published),
	)
}

// incrementDigit adds one to the digit under cursor, wrapping 9 to 0 without carry.
// Position 0 is the most significant digit.
func incrementDigit(v uint32, cursor int) uint32 {
	mult := uint32(1)
	for i := 0; i < editDigits-1-cursor; i++ {
		mult *= 10
	}
	if (v/mult)%10 == 9 {
		return v - 9*mult
	}
	return v + mult
}

// Editor exposes the digit editor for display.
func (p *Panel) Editor() (value uint32, cursor int) {
	return p.editValue, p.cursor
}
