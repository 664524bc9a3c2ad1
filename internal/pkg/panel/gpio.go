package panel

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const gpioPollInterval = 20 * time.Millisecond

// GPIOButton polls a sysfs GPIO value file, e.g. /sys/class/gpio/gpio17/value.
// Buttons are wired active low.
type GPIOButton struct {
	Path      string
	Button    Button
	LongPress time.Duration

	read   func(string) ([]byte, error)
	now    func() time.Time
	logger *zap.Logger
}

func NewGPIOButton(path string, b Button, longPress time.Duration) *GPIOButton {
	return &GPIOButton{
		Path:      path,
		Button:    b,
		LongPress: longPress,
		read:      os.ReadFile,
		now:       time.Now,
		logger:    zap.L(),
	}
}

func (g *GPIOButton) pressed() (bool, error) {
	raw, err := g.read(g.Path)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(raw)) == "0", nil
}

// Run emits one Press per release. Presses longer than LongPress are long.
func (g *GPIOButton) Run(ctx context.Context, out chan<- Press) error {
	ticker := time.NewTicker(gpioPollInterval)
	defer ticker.Stop()

	var (
		down     bool
		since    time.Time
		reported bool
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		p, err := g.pressed()
		if err != nil {
			if !reported {
				g.logger.Error("button read failed", zap.Error(err), zap.String("path", g.Path))
				reported = true
			}
			continue
		}
		reported = false
		if press, ok := g.edge(p, &down, &since); ok {
			select {
			case out <- press:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (g *GPIOButton) edge(pressed bool, down *bool, since *time.Time) (Press, bool) {
	switch {
	case pressed && !*down:
		*down = true
		*since = g.now()
	case !pressed && *down:
		*down = false
		return Press{Button: g.Button, Long: g.now().Sub(*since) >= g.LongPress}, true
	}
	return Press{}, false
}
