package overlay

import (
	"time"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

// ConsoleDisplay renders notifications to the log. Used by the terminal
// narration widget, where the browser overlay handles the visuals.
type ConsoleDisplay struct {
	logger *logger.Logger
}

func NewConsoleDisplay(logger *logger.Logger) *ConsoleDisplay {
	return &ConsoleDisplay{logger: logger}
}

func (d *ConsoleDisplay) Show(event *models.DonationEvent, visible time.Duration) {
	d.logger.Infof("=== %s ===", event.String())
}

func (d *ConsoleDisplay) Hide() {}
